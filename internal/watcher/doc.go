// Package watcher keeps a suggestion index in step with a directory of text
// files.
//
// HybridWatcher reports file changes using fsnotify, falling back to polling
// where fsnotify cannot be used (network mounts, some container volumes).
// Events are debounced so editors that write a file in several steps cause
// one update. Syncer turns the debounced batches into index operations: a
// created or modified file is upserted as a document whose id is its path
// relative to the root, and a deleted file removes that document.
//
// Usage:
//
//	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	sync := watcher.NewSyncer(root, storage, watcher.SyncOptions{DocumentType: "file"})
//	if _, err := sync.IndexAll(ctx); err != nil {
//	    return err
//	}
//	go func() { _ = w.Start(ctx, root) }()
//	return sync.Run(ctx, w)
package watcher
