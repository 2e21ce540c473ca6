package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidverse/vidverse-go/internal/auth"
	"github.com/vidverse/vidverse-go/internal/ledger"
)

// descriptorFlags are shared by publish and edit.
type descriptorFlags struct {
	title, description, category, location, externalURL string
	thumbnail, thumbnailMime                            string
}

func (d *descriptorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.title, "title", "", "Video title (required)")
	cmd.Flags().StringVar(&d.description, "description", "", "Video description (required)")
	cmd.Flags().StringVar(&d.category, "category", "", "Category (required)")
	cmd.Flags().StringVar(&d.location, "location", "", "Location (required)")
	cmd.Flags().StringVar(&d.externalURL, "external-url", "", "External URL")
	cmd.Flags().StringVar(&d.thumbnail, "thumbnail", "", "Thumbnail image file")
	cmd.Flags().StringVar(&d.thumbnailMime, "thumbnail-mime", "image/jpeg", "Thumbnail MIME type")
}

func (d *descriptorFlags) fields() map[string]string {
	return map[string]string{
		"title":       d.title,
		"description": d.description,
		"category":    d.category,
		"location":    d.location,
		"externalUrl": d.externalURL,
	}
}

func newPublishCommand(opts *Options) *cobra.Command {
	var d descriptorFlags
	var video, videoMime, idempotencyKey string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload a video with its thumbnail and register it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files := []FilePart{
				{Field: "video", Path: video, Mime: videoMime},
				{Field: "thumbnail", Path: d.thumbnail, Mime: d.thumbnailMime},
			}
			headers := map[string]string{}
			if idempotencyKey != "" {
				headers["Idempotency-Key"] = idempotencyKey
			}
			data, err := opts.client().PostMultipart(cmd.Context(), "/v1/videos", d.fields(), files, headers)
			_ = printJSON(cmd.OutOrStdout(), data)
			return err
		},
	}
	d.register(cmd)
	cmd.Flags().StringVar(&video, "video", "", "Video file (required)")
	cmd.Flags().StringVar(&videoMime, "video-mime", "video/mp4", "Video MIME type")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Replay-safe key for retries")

	// Mark required flags
	for _, f := range []string{"title", "description", "category", "location", "video", "thumbnail"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newEditCommand(opts *Options) *cobra.Command {
	var d descriptorFlags
	cmd := &cobra.Command{
		Use:   "edit <video-id>",
		Short: "Replace the descriptor and optionally the thumbnail of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ledger.ParseVideoID(args[0])
			if err != nil {
				return err
			}
			var files []FilePart
			if d.thumbnail != "" {
				files = append(files, FilePart{Field: "thumbnail", Path: d.thumbnail, Mime: d.thumbnailMime})
			}
			data, err := opts.client().PostMultipart(cmd.Context(), fmt.Sprintf("/v1/videos/%d/edit", id), d.fields(), files, nil)
			_ = printJSON(cmd.OutOrStdout(), data)
			return err
		},
	}
	d.register(cmd)
	for _, f := range []string{"title", "description", "category", "location"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newLikeCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "like <video-id>",
		Short: "Toggle your like on a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ledger.ParseVideoID(args[0])
			if err != nil {
				return err
			}
			data, err := opts.client().PostJSON(cmd.Context(), fmt.Sprintf("/v1/videos/%d/like", id), nil)
			_ = printJSON(cmd.OutOrStdout(), data)
			return err
		},
	}
}

func newCommentCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <video-id> <text>",
		Short: "Comment on a video",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ledger.ParseVideoID(args[0])
			if err != nil {
				return err
			}
			data, err := opts.client().PostJSON(cmd.Context(), fmt.Sprintf("/v1/videos/%d/comments", id),
				map[string]string{"text": args[1]})
			_ = printJSON(cmd.OutOrStdout(), data)
			return err
		},
	}
}

// getCommand builds a read command for a path derived from its arguments.
func getCommand(opts *Options, use, short string, nargs int, path func(args []string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := path(args)
			if err != nil {
				return err
			}
			data, err := opts.client().Get(cmd.Context(), p)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newShowCommand(opts *Options) *cobra.Command {
	return getCommand(opts, "show <video-id>", "Show a video with its market data", 1, func(args []string) (string, error) {
		id, err := ledger.ParseVideoID(args[0])
		return fmt.Sprintf("/v1/videos/%d", id), err
	})
}

func newCommentsCommand(opts *Options) *cobra.Command {
	return getCommand(opts, "comments <video-id>", "List comments, most recent first", 1, func(args []string) (string, error) {
		id, err := ledger.ParseVideoID(args[0])
		return fmt.Sprintf("/v1/videos/%d/comments", id), err
	})
}

func newListCommand(opts *Options) *cobra.Command {
	return getCommand(opts, "list", "List videos, newest first", 0, func(args []string) (string, error) {
		return "/v1/videos", nil
	})
}

func newTransactionsCommand(opts *Options) *cobra.Command {
	return getCommand(opts, "transactions <address>", "List journaled transactions of an account", 1, func(args []string) (string, error) {
		account, err := ledger.ParseAccount(args[0])
		return "/v1/accounts/" + account.Hex() + "/transactions", err
	})
}

// newTokenCommand mints a bearer token locally with the service secret.
func newTokenCommand() *cobra.Command {
	var secret, issuer, audience string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <address>",
		Short: "Issue a bearer token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := ledger.ParseAccount(args[0])
			if err != nil {
				return err
			}
			a, err := auth.New(secret, issuer, audience)
			if err != nil {
				return err
			}
			token, err := a.Issue(account, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("VV_JWT_SECRET"), "Signing secret (VV_JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", envOr("VV_JWT_ISSUER", "vidverse"), "Token issuer")
	cmd.Flags().StringVar(&audience, "audience", envOr("VV_JWT_AUDIENCE", "vidverse-api"), "Token audience")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
