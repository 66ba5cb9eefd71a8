package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"paygate-bot/config"
	"paygate-bot/internal/access"
	"paygate-bot/internal/bot"
	"paygate-bot/internal/db"
)

var revokeCmd = &cobra.Command{
	Use:   "revoke <user_id>",
	Short: "Withdraw a user's access",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevoke,
}

var renewCmd = &cobra.Command{
	Use:   "renew <user_id>",
	Short: "Issue a fresh access token for a paid user",
	Args:  cobra.ExactArgs(1),
	RunE:  runRenew,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show account and payment counts",
	RunE:  runStats,
}

var infoCmd = &cobra.Command{
	Use:   "info <user_id>",
	Short: "Show a user's access record",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

func withService(fn func(ctx context.Context, store db.Store, svc *access.Service) error) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	newToken, err := access.NewTokenFunc()
	if err != nil {
		return err
	}
	return fn(context.Background(), store, access.NewService(store, newToken, nil))
}

func runRevoke(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, _ db.Store, svc *access.Service) error {
		ok, err := svc.Revoke(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("user %d not found", userID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Access revoked for user %d\n", userID)
		return nil
	})
}

func runRenew(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, _ db.Store, svc *access.Service) error {
		token, err := svc.Renew(ctx, userID)
		if errors.Is(err, access.ErrNotPaid) {
			return fmt.Errorf("user %d has not paid", userID)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "New access link: %s\n",
			bot.AccessLink(cfg.Server.BaseURL, token, cfg.Messenger.Provider == config.MessengerVK))
		return nil
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	return withService(func(ctx context.Context, store db.Store, _ *access.Service) error {
		stats, err := store.GetStats(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Users:\t%d\n", stats.TotalUsers)
		fmt.Fprintf(w, "Paid:\t%d\n", stats.PaidUsers)
		fmt.Fprintf(w, "Accessed:\t%d\n", stats.AccessedUsers)
		for status, n := range stats.Payments {
			fmt.Fprintf(w, "Payments %s:\t%d\n", status, n)
		}
		return w.Flush()
	})
}

func runInfo(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, store db.Store, _ *access.Service) error {
		account, err := store.GetAccessInfo(ctx, userID)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("user %d not found", userID)
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "User:\t%d\n", account.UserID)
		fmt.Fprintf(w, "Name:\t%s\n", deref(account.Name))
		fmt.Fprintf(w, "Contact:\t%s\n", deref(account.Contact))
		fmt.Fprintf(w, "Payment:\t%s\n", deref(account.PaymentID))
		fmt.Fprintf(w, "Paid:\t%t\n", account.IsPaid)
		fmt.Fprintf(w, "Token used:\t%t\n", account.TokenUsed)
		if token, ok := account.ActiveToken(); ok {
			fmt.Fprintf(w, "Token:\t%s\n", token)
		}
		fmt.Fprintf(w, "Created:\t%s\n", account.CreatedAt.Format("2006-01-02 15:04:05"))
		if account.PaidAt != nil {
			fmt.Fprintf(w, "Paid at:\t%s\n", account.PaidAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	})
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
