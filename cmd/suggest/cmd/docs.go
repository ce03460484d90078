package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/output"
	"github.com/Aman-CERP/suggest/internal/suggest"
)

// docResult is the JSON output of the document commands.
type docResult struct {
	Action string `json:"action"`
	Key    string `json:"key"`
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <type> <id> <text...>",
		Short: "Add a new document",
		Long: `Add a document to the index. Fails if a document with the same type
and id already exists; use 'suggest update' to replace it.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := suggest.Document{Type: args[0], ID: args[1], Text: strings.Join(args[2:], " ")}

			s, err := opts.openStore(cmd.Context(), readWrite, nil)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := s.InsertDocument(cmd.Context(), doc); err != nil {
				return err
			}
			return opts.reportDoc(cmd, "added", doc.Key())
		},
	}
}

func newUpdateCmd(opts *rootOptions) *cobra.Command {
	var appendText bool

	cmd := &cobra.Command{
		Use:   "update <type> <id> <text...>",
		Short: "Create or replace a document",
		Long: `Set the text of a document, creating it if it does not exist.

With --append the text is added to the end of the stored text.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, id, text := args[0], args[1], strings.Join(args[2:], " ")

			s, err := opts.openStore(cmd.Context(), readWrite, nil)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			created := false
			err = s.UpdateDocument(cmd.Context(), typ, id, func(stored *suggest.Document) suggest.Document {
				created = stored == nil
				if appendText && stored != nil && stored.Text != "" {
					return suggest.Document{Type: typ, ID: id, Text: stored.Text + " " + text}
				}
				return suggest.Document{Type: typ, ID: id, Text: text}
			})
			if err != nil {
				return err
			}
			action := "updated"
			if created {
				action = "added"
			}
			return opts.reportDoc(cmd, action, suggest.DocumentKey(typ, id))
		},
	}

	cmd.Flags().BoolVar(&appendText, "append", false, "Append to the stored text instead of replacing it")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	var missingOK bool

	cmd := &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := suggest.DocumentKey(args[0], args[1])

			s, err := opts.openStore(cmd.Context(), readWrite, nil)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			err = s.DeleteDocument(cmd.Context(), key)
			if missingOK && serrors.HasCode(err, serrors.ErrCodeDocumentNotFound) {
				opts.log().Debug("delete_missing_ignored", slog.String("key", key))
				return opts.reportDoc(cmd, "absent", key)
			}
			if err != nil {
				return err
			}
			return opts.reportDoc(cmd, "deleted", key)
		},
	}

	cmd.Flags().BoolVar(&missingOK, "missing-ok", false, "Succeed when the document does not exist")
	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	var keys []string

	cmd := &cobra.Command{
		Use:   "get [<type> <id>]",
		Short: "Show stored documents",
		Long: `Show a document by type and id, or several documents by key.

Examples:
  suggest get city 1
  suggest get --key city:1 --key city:2`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(keys) > 0 {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range keys {
				if _, _, ok := suggest.SplitKey(k); !ok {
					return serrors.ValidationError(fmt.Sprintf("invalid key %q", k), nil).
						WithSuggestion("Keys have the form <type>:<id>, e.g. city:1.")
				}
			}

			s, err := opts.openStore(cmd.Context(), readOnly, nil)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			var docs []suggest.Document
			if len(keys) > 0 {
				docs, err = s.GetDocs(cmd.Context(), keys)
				if err != nil {
					return err
				}
			} else {
				doc, err := s.GetDocument(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if doc == nil {
					key := suggest.DocumentKey(args[0], args[1])
					return serrors.New(serrors.ErrCodeDocumentNotFound, "document not found", nil).
						WithDetail("key", key)
				}
				docs = []suggest.Document{*doc}
			}

			if opts.jsonOutput() {
				if len(keys) == 0 {
					return writeJSON(cmd.OutOrStdout(), docs[0])
				}
				return writeJSON(cmd.OutOrStdout(), docs)
			}
			out := output.New(cmd.OutOrStdout())
			for _, d := range docs {
				out.KeyValue(d.Key(), d.Text)
			}
			if len(keys) > 0 && len(docs) < len(keys) {
				out.Warningf("%d of %d keys not found", len(keys)-len(docs), len(keys))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&keys, "key", nil, "Document key type:id (repeatable)")
	return cmd
}

// reportDoc prints the outcome of a document command.
func (o *rootOptions) reportDoc(cmd *cobra.Command, action, key string) error {
	o.log().Debug("command_complete", slog.String("action", action), slog.String("key", key))
	if o.jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), docResult{Action: action, Key: key})
	}
	out := output.New(cmd.OutOrStdout())
	switch action {
	case "absent":
		out.Warning(fmt.Sprintf("%s not found", key))
	default:
		out.Successf("%s %s", strings.ToUpper(action[:1])+action[1:], key)
	}
	return nil
}
