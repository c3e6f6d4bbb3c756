// Command bookswapctl runs maintenance tasks against the bookswap store.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/kevinaaaquil/bookswap/config"
	"github.com/kevinaaaquil/bookswap/models"
	"github.com/kevinaaaquil/bookswap/service"
	"github.com/kevinaaaquil/bookswap/store"
	"github.com/kevinaaaquil/bookswap/utils"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/term"
)

type app struct {
	store store.Store
	close func(context.Context) error
	log   *utils.Logger
}

func (a *app) open(cmd *cobra.Command, _ []string) error {
	if a.store != nil {
		return nil
	}
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, closeFn, err := store.Open(cmd.Context(), cfg.StoreDriver, cfg.MongoURI, cfg.DBName, cfg.MongoTransactions)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store, a.close = st, closeFn
	return nil
}

func (a *app) shutdown(cmd *cobra.Command, _ []string) error {
	if a.close == nil {
		return nil
	}
	return a.close(cmd.Context())
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:                "bookswapctl",
		Short:              "Maintenance commands for the bookswap backend",
		SilenceUsage:       true,
		PersistentPreRunE:  a.open,
		PersistentPostRunE: a.shutdown,
	}
	root.AddCommand(newRatingsCmd(a), newSwapsCmd(a), newUsersCmd(a))
	return root
}

func newRatingsCmd(a *app) *cobra.Command {
	ratings := &cobra.Command{Use: "ratings", Short: "Derived rating maintenance"}
	var userHex string
	recompute := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute rating and totalRatings from active reviews",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := service.NewReviewService(a.store, a.log)
			if userHex == "" {
				n, err := svc.RecomputeAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recomputed %d users\n", n)
				return nil
			}
			id, err := primitive.ObjectIDFromHex(userHex)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			sum, err := svc.RecomputeRating(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s: rating=%.1f totalRatings=%d\n", userHex, sum.Average(), sum.Count)
			return nil
		},
	}
	recompute.Flags().StringVar(&userHex, "user", "", "only recompute this user id")
	ratings.AddCommand(recompute)
	return ratings
}

func newSwapsCmd(a *app) *cobra.Command {
	swaps := &cobra.Command{Use: "swaps", Short: "Swap reports"}
	var limit int
	expired := &cobra.Command{
		Use:   "expired",
		Short: "List pending swaps past expiresAt (status is not changed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := service.NewSwapService(a.store, nil, a.log, 0)
			list, total, err := svc.ListExpired(cmd.Context(), models.Page{Number: 1, Limit: limit})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tREQUESTER\tOWNER\tEXPIRED AT")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID.Hex(), s.Requester.Hex(), s.Owner.Hex(), s.ExpiresAt.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d expired pending swaps\n", total)
			return nil
		},
	}
	expired.Flags().IntVar(&limit, "limit", models.MaxPageLimit, "max rows to print")
	swaps.AddCommand(expired)
	return swaps
}

func newUsersCmd(a *app) *cobra.Command {
	users := &cobra.Command{Use: "users", Short: "Account administration"}

	promote := &cobra.Command{
		Use:   "promote EMAIL",
		Short: "Give an existing user the admin role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := service.Promote(cmd.Context(), a.store, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now an admin\n", u.Email)
			return nil
		},
	}

	var email, name string
	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account (password is prompted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}
			u, err := service.CreateAdmin(cmd.Context(), a.store, email, name, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", u.Email, u.ID.Hex())
			return nil
		},
	}
	createAdmin.Flags().StringVar(&email, "email", "", "admin email")
	createAdmin.Flags().StringVar(&name, "name", "", "display name")
	_ = createAdmin.MarkFlagRequired("email")

	users.AddCommand(promote, createAdmin)
	return users
}

// readPassword reads a password without echoing it.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(b)), nil
}

func main() {
	a := &app{log: utils.NewLogger()}
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
