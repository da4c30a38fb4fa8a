package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joschi/blueskyfeedbot/internal/fingerprint"
)

// LinkDigest pairs an entry link with its cache digest.
type LinkDigest struct {
	Link   string `json:"link"`
	Digest string `json:"digest"`
}

// NewFingerprintCommand creates the fingerprint command.
func NewFingerprintCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <link>...",
		Short: "Print the cache digest of entry links",
		Long: `Print the digest stored in the cache for each entry link. Links are hashed
exactly as given.

Useful to check by hand whether an entry has been recorded, or to seed a
cache file so existing entries are never posted.

Example:
  blueskyfeedbot fingerprint https://blog.example.com/posts/1`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			digests := make([]LinkDigest, 0, len(args))
			for _, link := range args {
				d, err := fingerprint.FromLink(link)
				if err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("fingerprinting %q", link), err)
				}
				digests = append(digests, LinkDigest{Link: link, Digest: d.String()})
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if out.JSON() {
				return out.Success(digests)
			}
			for _, ld := range digests {
				fmt.Fprintf(out.Writer, "%s  %s\n", ld.Digest, ld.Link)
			}
			return nil
		},
	}
}
