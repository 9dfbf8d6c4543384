package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"Tally/client"
	"Tally/internal/address"
	"Tally/internal/event"
	"Tally/internal/feed"
)

func keygenCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "keygen",
		Short: "Generates a wallet key file",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			path, err := c.Flags().GetString(KeyFileKey)
			if err != nil {
				return err
			}

			force, err := c.Flags().GetBool("force")
			if err != nil {
				return err
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("generate key:\n%w", err)
			}

			if err := os.WriteFile(path, priv, 0600); err != nil {
				return fmt.Errorf("save key to %s:\n%w", path, err)
			}

			addr, _ := address.FromBytes(pub)
			fmt.Fprintln(c.OutOrStdout(), addr)

			return nil
		},
	}

	c.Flags().Bool("force", false, "Overwrite an existing key file")

	return c
}

func createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <poll-id> <question> <option> <option>...",
		Short: "Creates a poll owned by the wallet",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			pollID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid poll id %q", args[0])
			}

			cli, wallet, err := session(c)
			if err != nil {
				return err
			}

			poll, err := wallet.CreatePoll(cli, pollID, args[1], args[2:])
			if err != nil {
				return err
			}

			fmt.Fprintln(c.OutOrStdout(), poll)

			return nil
		},
	}
}

func voteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vote <poll> <option-index>",
		Short: "Casts the wallet's ballot",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			poll, err := address.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid poll address:\n%w", err)
			}

			idx, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return fmt.Errorf("invalid option index %q", args[1])
			}

			cli, wallet, err := session(c)
			if err != nil {
				return err
			}

			return wallet.Vote(cli, poll, uint8(idx))
		},
	}
}

func closeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close <poll>",
		Short: "Closes a poll created by the wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			poll, err := address.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid poll address:\n%w", err)
			}

			cli, wallet, err := session(c)
			if err != nil {
				return err
			}

			return wallet.ClosePoll(cli, poll)
		},
	}
}

func pollCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "poll <address>",
		Short: "Prints a poll and its tallies",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			addr, err := address.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid poll address:\n%w", err)
			}

			cli, err := connect(c.Flags())
			if err != nil {
				return err
			}

			view, err := cli.GetPoll(addr)
			if err != nil {
				return err
			}

			return printJSON(c.OutOrStdout(), view)
		},
	}
}

func ballotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ballot <poll> [voter]",
		Short: "Prints a voter's ballot, defaulting to the wallet",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			poll, err := address.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid poll address:\n%w", err)
			}

			cli, err := connect(c.Flags())
			if err != nil {
				return err
			}

			var voter address.Address
			if len(args) == 2 {
				if voter, err = address.Parse(args[1]); err != nil {
					return fmt.Errorf("invalid voter address:\n%w", err)
				}
			} else {
				wallet, err := loadWallet(c.Flags())
				if err != nil {
					return err
				}
				voter = wallet.Address()
			}

			view, err := cli.GetBallot(poll, voter)
			if err != nil {
				return err
			}

			return printJSON(c.OutOrStdout(), view)
		},
	}
}

func eventsCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "events",
		Short: "Prints journaled events",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			from, _ := c.Flags().GetUint64("from")
			limit, _ := c.Flags().GetInt("limit")

			cli, err := connect(c.Flags())
			if err != nil {
				return err
			}

			entries, _, err := cli.Events(from, limit)
			if err != nil {
				return err
			}

			for _, e := range entries {
				if err := printEvent(c.OutOrStdout(), e.Seq, e.Event); err != nil {
					return err
				}
			}

			return nil
		},
	}

	c.Flags().Uint64("from", 1, "First sequence number")
	c.Flags().Int("limit", event.DefaultPageSize, "Maximum number of events")

	return c
}

func followCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "follow",
		Short: "Replays events from the feed and streams new ones",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			addr, err := c.Flags().GetString(FeedKey)
			if err != nil {
				return err
			}

			from, _ := c.Flags().GetUint64("from")

			_, key, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("generate feed identity:\n%w", err)
			}

			ctx := c.Context()

			sub, err := feed.Dial(ctx, addr, key)
			if err != nil {
				return fmt.Errorf("dial feed %s:\n%w", addr, err)
			}
			defer sub.Close()

			out := c.OutOrStdout()

			err = sub.Follow(ctx, from, func(ev event.Event) {
				printEvent(out, 0, ev)
			})
			if errors.Is(err, ctx.Err()) {
				return nil
			}

			return err
		},
	}

	c.Flags().Uint64("from", 1, "First sequence number to replay")

	return c
}

// session connects to the node and loads the wallet.
func session(c *cobra.Command) (*client.Client, *client.Wallet, error) {
	cli, err := connect(c.Flags())
	if err != nil {
		return nil, nil, err
	}

	wallet, err := loadWallet(c.Flags())
	if err != nil {
		return nil, nil, err
	}

	return cli, wallet, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// printEvent writes one event per line; seq 0 is omitted.
func printEvent(w io.Writer, seq uint64, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if seq == 0 {
		_, err = fmt.Fprintf(w, "%s %s\n", ev.Name(), data)
		return err
	}

	_, err = fmt.Fprintf(w, "%d %s %s\n", seq, ev.Name(), data)

	return err
}
