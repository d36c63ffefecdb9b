package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Institute-for-Folly/RECAP/internal/auth"
	"github.com/Institute-for-Folly/RECAP/pkg/client"
	"github.com/Institute-for-Folly/RECAP/pkg/digest"
)

func init() {
	rootCmd.AddCommand(
		submitCmd, dayCmd, existsCmd, canSubmitCmd, streakCmd, calendarCmd,
		entryCmd, latestCmd, ledgerCmd, tokenCmd, digestCmd, hashSecretCmd,
	)
}

func printEntry(w io.Writer, e *client.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Sequence:\t%d\n", e.SequenceIndex)
	fmt.Fprintf(tw, "Identity:\t%s\n", e.Identity)
	fmt.Fprintf(tw, "Day:\t%d\n", e.DayID)
	fmt.Fprintf(tw, "Digest:\t%s\n", e.ContentDigest)
	fmt.Fprintf(tw, "Created:\t%s\n", e.CreatedAt.Format(time.RFC3339))
	return tw.Flush()
}

func printEntries(w io.Writer, entries []client.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tDAY\tIDENTITY\tDIGEST\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n",
			e.SequenceIndex, e.DayID, e.Identity, e.ContentDigest, e.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// readDigestSource hashes a file, or stdin when path is "-".
func readDigestSource(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	sum, err := digest.SumReader(r)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return digest.Hex(sum), nil
}

// ── submit ───────────────────────────────────────────────────────────────────

var (
	submitIdentity string
	submitDigest   string
	submitFile     string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Record today's recap digest",
	Long: `Submit records a content digest for today. Pass --digest with a
0x-prefixed 32-byte hex value, or --file to hash a file (- for stdin).

With --token the identity comes from the token; otherwise --identity is
required.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d := submitDigest
		switch {
		case d != "" && submitFile != "":
			return fmt.Errorf("use either --digest or --file")
		case submitFile != "":
			var err error
			if d, err = readDigestSource(submitFile); err != nil {
				return err
			}
		case d == "":
			return fmt.Errorf("--digest or --file is required")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		e, err := c.Submit(ctx, submitIdentity, d)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), e, func(w io.Writer) error { return printEntry(w, e) })
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitIdentity, "identity", "", "submitting identity (0x + 40 hex)")
	submitCmd.Flags().StringVar(&submitDigest, "digest", "", "content digest (0x + 64 hex)")
	submitCmd.Flags().StringVar(&submitFile, "file", "", "file to hash into the digest (- for stdin)")
}

// ── day / exists / can-submit ────────────────────────────────────────────────

var dayCmd = &cobra.Command{
	Use:   "day <identity> <day>",
	Short: "Show an identity's entry for a day",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := parseDayArg(args[1])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		e, err := c.EntryForDay(ctx, args[0], day)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), e, func(w io.Writer) error { return printEntry(w, e) })
	},
}

var existsCmd = &cobra.Command{
	Use:   "exists <identity> <day>",
	Short: "Report whether an identity submitted on a day",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := parseDayArg(args[1])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		ok, err := c.HasEntryForDay(ctx, args[0], day)
		if err != nil {
			return err
		}
		v := map[string]bool{"exists": ok}
		return render(cmd.OutOrStdout(), v, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, ok)
			return err
		})
	},
}

var canSubmitCmd = &cobra.Command{
	Use:   "can-submit <identity>",
	Short: "Report whether an identity may still submit today",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		res, err := c.CanSubmit(ctx, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%t (day %d)\n", res.CanSubmit, res.DayID)
			return err
		})
	},
}

// ── streak / calendar ────────────────────────────────────────────────────────

var streakAsOf string

var streakCmd = &cobra.Command{
	Use:   "streak <identity>",
	Short: "Show an identity's consecutive-day streak",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var asOf *int64
		if streakAsOf != "" {
			d, err := parseDayArg(streakAsOf)
			if err != nil {
				return err
			}
			asOf = &d
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		res, err := c.Streak(ctx, args[0], asOf)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%d day(s) as of day %d [%s]\n", res.Streak, res.AsOf, res.Tier)
			return err
		})
	},
}

var calendarFrom, calendarTo string

var calendarCmd = &cobra.Command{
	Use:   "calendar <identity>",
	Short: "Show which days an identity submitted on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := optionalDay(calendarFrom)
		if err != nil {
			return err
		}
		to, err := optionalDay(calendarTo)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		res, err := c.Calendar(ctx, args[0], from, to)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "DAY\tDATE\tSUBMITTED\tSEQ")
			for _, d := range res.Days {
				seq := "-"
				if d.Entry != nil {
					seq = strconv.FormatUint(d.Entry.SequenceIndex, 10)
				}
				fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", d.DayID, d.Date, d.Entry != nil, seq)
			}
			return tw.Flush()
		})
	},
}

func optionalDay(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	d, err := parseDayArg(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func init() {
	streakCmd.Flags().StringVar(&streakAsOf, "as-of", "", "day to compute the streak at (default today)")
	calendarCmd.Flags().StringVar(&calendarFrom, "from", "", "first day (default 30 days before --to)")
	calendarCmd.Flags().StringVar(&calendarTo, "to", "", "last day (default today)")
}

// ── entry / latest / ledger ──────────────────────────────────────────────────

var entryCmd = &cobra.Command{
	Use:   "entry <index>",
	Short: "Show the entry at a sequence index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		i, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid index %q", args[0])
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		e, err := c.EntryAt(ctx, i)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), e, func(w io.Writer) error { return printEntry(w, e) })
	},
}

var latestOffset, latestLimit uint64

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Page the ledger newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		page, err := c.Latest(ctx, latestOffset, latestLimit)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), page, func(w io.Writer) error {
			if err := printEntries(w, page.Entries); err != nil {
				return err
			}
			if page.NextOffset == nil {
				return nil
			}
			_, err := fmt.Fprintf(w, "\nmore: --offset %d\n", *page.NextOffset)
			return err
		})
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show ledger size and the server's current day",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		info, err := c.Ledger(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), info, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%d entries, today is day %d\n", info.TotalEntries, info.DayID)
			return err
		})
	},
}

func init() {
	latestCmd.Flags().Uint64Var(&latestOffset, "offset", 0, "entries to skip from the newest")
	latestCmd.Flags().Uint64Var(&latestLimit, "limit", 20, "page size")
}

// ── token / digest / hash-secret ─────────────────────────────────────────────

var issueSecret string

var tokenCmd = &cobra.Command{
	Use:   "token <identity>",
	Short: "Mint an identity token from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		tr, err := c.IssueToken(ctx, args[0], issueSecret)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), tr, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, tr.Token)
			return err
		})
	},
}

var digestCmd = &cobra.Command{
	Use:   "digest <file|->",
	Short: "Print the content digest of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := readDigestSource(args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), map[string]string{"content_digest": d}, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, d)
			return err
		})
	},
}

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret <secret>",
	Short: "Print the bcrypt hash for auth.issue_secret_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := auth.HashIssueSecret(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&issueSecret, "issue-secret", "", "shared secret for token issuance")
}
