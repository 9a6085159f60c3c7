/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blacktop/sharecast/internal/logutil"
	"github.com/blacktop/sharecast/internal/share/config"
	"github.com/blacktop/sharecast/internal/share/manager"
)

var (
	providerFlag string
	profileFlag  string
	messageFlag  string
	linkFlag     string
	imageFlag    string
	videoFlag    string
	mediaFlag    []string
	mediaIDFlag  []string
	optionFlag   []string
	envFileFlag  string
	configFlag   string
	verboseFlag  bool
	dryRun       bool
)

// Execute runs the root command.
func Execute() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sharecast [message]",
		Short: "Share posts to social networks",
		Long: "sharecast publishes a post to Facebook, Instagram, X, or LinkedIn " +
			"through one payload shape. Provide your message as an argument, with " +
			"--message, or on stdin.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
		Example: `  sharecast --provider fb --message "hello world" --image https://example.com/shot.png
  sharecast -p x "Ship it!" --media ./demo.mp4
  echo "Release shipped" | sharecast -p linkedin --link https://example.com/notes`,
	}

	cmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "Provider to share to (facebook, instagram, twitter, linkedin or fb, ig, x, li)")
	cmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "Credential profile to use")
	cmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Load environment variables from this file")
	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "V", false, "Enable verbose logging")

	cmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Message text to post")
	cmd.Flags().StringVar(&linkFlag, "link", "", "Link to share")
	cmd.Flags().StringVar(&imageFlag, "image", "", "Image URL to attach")
	cmd.Flags().StringVar(&videoFlag, "video", "", "Video URL to attach")
	cmd.Flags().StringSliceVar(&mediaFlag, "media", nil, "Media source (local path or URL) to upload, repeatable")
	cmd.Flags().StringSliceVar(&mediaIDFlag, "media-id", nil, "Pre-uploaded media id to attach, repeatable")
	cmd.Flags().StringSliceVar(&optionFlag, "option", nil, "Provider option as key=value, repeatable")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the payload without posting")
	cmd.Flags().SortFlags = false

	cmd.AddCommand(newDeleteCommand())
	cmd.AddCommand(newCommentCommand())

	return cmd
}

func setup(ctx context.Context) (*manager.Manager, error) {
	logutil.SetVerbose(verboseFlag)

	if envFileFlag != "" {
		if err := godotenv.Load(envFileFlag); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.Verbose {
		logutil.SetVerbose(true)
	}

	return manager.New(ctx, cfg)
}

func runRoot(cmd *cobra.Command, args []string) error {
	if providerFlag == "" {
		return errors.New("--provider is required")
	}

	message, err := resolveMessage(cmd, args)
	if err != nil {
		return err
	}

	mgr, err := setup(cmd.Context())
	if err != nil {
		return err
	}

	builder, err := mgr.Share(providerFlag, profileFlag)
	if err != nil {
		return err
	}

	if message != "" {
		builder.Message(message)
	}
	if linkFlag != "" {
		builder.Link(linkFlag)
	}
	if imageFlag != "" {
		builder.Image(imageFlag)
	}
	if videoFlag != "" {
		builder.Video(videoFlag)
	}
	for _, source := range mediaFlag {
		builder.Media(source, "")
	}
	for _, id := range mediaIDFlag {
		builder.MediaID(id)
	}
	for _, raw := range optionFlag {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("option %q is not key=value", raw)
		}
		builder.Option(key, value)
	}

	if dryRun {
		payload, err := builder.Payload()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[dry-run] would share to %s:\n", providerFlag)
		return printJSON(cmd.OutOrStdout(), payload)
	}

	result, err := builder.Share(cmd.Context())
	if err != nil {
		return err
	}

	logutil.Infof("shared to %s: %s", result.Provider, result.ID)
	return printJSON(cmd.OutOrStdout(), result)
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <post-id>",
		Short: "Delete a previously shared post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if providerFlag == "" {
				return errors.New("--provider is required")
			}
			mgr, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := mgr.Delete(cmd.Context(), providerFlag, profileFlag, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("post %s was not deleted", args[0])
			}
			logutil.Infof("deleted %s", args[0])
			return nil
		},
	}
}

func newCommentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <post-id> <message>",
		Short: "Comment on a previously shared post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if providerFlag == "" {
				return errors.New("--provider is required")
			}
			mgr, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			result, err := mgr.Comment(cmd.Context(), providerFlag, profileFlag, args[0], args[1])
			if err != nil {
				return err
			}
			logutil.Infof("commented on %s: %s", result.PostID, result.ID)
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func resolveMessage(cmd *cobra.Command, args []string) (string, error) {
	var message string

	if messageFlag != "" {
		message = messageFlag
	}

	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}

	if message != "" {
		return strings.TrimSpace(message), nil
	}

	stdin := cmd.InOrStdin()
	if file, ok := stdin.(*os.File); ok && !term.IsTerminal(int(file.Fd())) {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		message = strings.TrimSpace(string(data))
	}

	if message == "" && linkFlag == "" && imageFlag == "" && videoFlag == "" && len(mediaFlag) == 0 && len(mediaIDFlag) == 0 {
		return "", errors.New("message is required when no link or media is given")
	}

	return message, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
