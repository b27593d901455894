package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tcriess/adda/auth"
	"github.com/tcriess/adda/blobstore"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/lifecycle"
	"github.com/tcriess/adda/moderation"
	"github.com/tcriess/adda/persistence"
	"github.com/tcriess/adda/realtime"
	"github.com/tcriess/adda/session"
	"github.com/tcriess/adda/types"
)

// A very simple CLI tool for moderating adda and cleaning up after it.

var (
	configPath    string
	adminEmail    string
	adminPassword string
)

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		globals.AppLogger.Error("could not marshal result", "error", err)
		return
	}
	fmt.Println(string(out))
}

func main() {
	log.SetFlags(0)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		globals.AppLogger.Warn("could not load .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		globalConfig  *config.Config
		hub           *realtime.Hub
		persister     *persistence.GormPersist
		authenticator *auth.Authenticator
		gate          *moderation.Gate
	)

	flagSet := config.GetFlagSet()
	var rootCmd = &cobra.Command{
		Use: "adda-admin",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			globalConfig, err = config.ReadConfiguration(configPath, flagSet)
			if err != nil {
				return err
			}
			globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

			hub = realtime.NewHub()
			go hub.Run(ctx)

			persister, err = persistence.NewGormPersister(globalConfig, hub)
			if err != nil {
				return err
			}
			authenticator, err = auth.NewAuthenticator(globalConfig, persister, auth.NewLogMailer())
			if err != nil {
				return err
			}
			gate = moderation.NewGate(persister)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if persister != nil {
				persister.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().StringVar(&adminEmail, "admin-email", "", "email of the acting admin (or ADDA_ADMIN_EMAIL)")
	rootCmd.PersistentFlags().StringVar(&adminPassword, "admin-password", "", "password of the acting admin (or ADDA_ADMIN_PASSWORD)")
	rootCmd.PersistentFlags().AddFlagSet(flagSet)

	// actingAdmin signs in with the configured credentials and waits for the admin's profile.
	actingAdmin := func() (*types.Profile, error) {
		email, password := adminEmail, adminPassword
		if email == "" {
			email = os.Getenv("ADDA_ADMIN_EMAIL")
		}
		if password == "" {
			password = os.Getenv("ADDA_ADMIN_PASSWORD")
		}
		if email == "" || password == "" {
			return nil, errors.New("admin credentials missing")
		}
		holder := session.NewHolder(authenticator, persister, hub)
		defer holder.Close()
		err := holder.Start(ctx)
		if err != nil {
			return nil, err
		}
		_, err = authenticator.SignIn(ctx, email, password)
		if err != nil {
			return nil, err
		}
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		state, err := holder.Await(waitCtx)
		if err != nil {
			return nil, err
		}
		if !state.Profile.IsAdmin() {
			return nil, fmt.Errorf("%s is not an admin: %w", email, types.ErrForbidden)
		}
		return state.Profile, nil
	}

	// openImages opens the blob store for chat image cleanup. A server holding the store keeps the images.
	openImages := func() (lifecycle.ImageStore, func()) {
		blobs, err := blobstore.New(globalConfig.BlobConfig)
		if err != nil {
			globals.AppLogger.Warn("could not open blob store, chat images are kept", "error", err)
			return nil, func() {}
		}
		return blobs, func() { _ = blobs.Close() }
	}

	var reportTab string
	var cmdReports = &cobra.Command{
		Use:   "reports",
		Short: "Show reports",
		Long:  `reports lists the reports of the given tab (pending, reviewed or all), newest first.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			admin, err := actingAdmin()
			if err != nil {
				globals.AppLogger.Error("could not sign in", "error", err)
				return
			}
			reports, err := gate.Reports(ctx, admin.Id, moderation.Tab(reportTab))
			if err != nil {
				globals.AppLogger.Error("could not get reports", "error", err)
				return
			}
			printJSON(reports)
		},
	}
	cmdReports.Flags().StringVar(&reportTab, "tab", string(moderation.TabPending), "pending, reviewed or all")

	var cmdStats = &cobra.Command{
		Use:   "stats",
		Short: "Show report counters",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			admin, err := actingAdmin()
			if err != nil {
				globals.AppLogger.Error("could not sign in", "error", err)
				return
			}
			stats, err := gate.Stats(ctx, admin.Id)
			if err != nil {
				globals.AppLogger.Error("could not get stats", "error", err)
				return
			}
			printJSON(stats)
		},
	}

	var cmdResolve = &cobra.Command{
		Use:   "resolve [report id] [status]",
		Short: "Resolve report",
		Long:  `resolve closes the report with the given id as actioned or dismissed.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			admin, err := actingAdmin()
			if err != nil {
				globals.AppLogger.Error("could not sign in", "error", err)
				return
			}
			report, err := gate.Resolve(ctx, args[0], types.ReportStatus(args[1]), admin.Id)
			if err != nil {
				globals.AppLogger.Error("could not resolve report", "error", err)
				return
			}
			printJSON(report)
		},
	}

	var cmdBan = &cobra.Command{
		Use:   "ban",
		Short: "ban user",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	var cmdBanUser = &cobra.Command{
		Use:   "user [user id] [reason]",
		Short: "Ban user",
		Long:  `ban user bans the user with the given id and withdraws their pending join requests.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			admin, err := actingAdmin()
			if err != nil {
				globals.AppLogger.Error("could not sign in", "error", err)
				return
			}
			removed, err := gate.BanUser(ctx, args[0], args[1], admin.Id)
			if err != nil {
				globals.AppLogger.Error("could not ban user", "error", err)
				return
			}
			globals.AppLogger.Info("user banned", "user", args[0], "removed_requests", removed)
		},
	}
	var cmdBanReport = &cobra.Command{
		Use:   "report [report id]",
		Short: "Ban reported user",
		Long:  `ban report bans the user behind the report with the given id and marks the report actioned.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			admin, err := actingAdmin()
			if err != nil {
				globals.AppLogger.Error("could not sign in", "error", err)
				return
			}
			report, err := gate.BanAndResolve(ctx, args[0], admin.Id)
			if err != nil {
				globals.AppLogger.Error("could not ban and resolve", "error", err)
				return
			}
			printJSON(report)
		},
	}

	var activity string
	var cmdHangouts = &cobra.Command{
		Use:   "hangouts",
		Short: "Show hangouts",
		Long:  `hangouts lists all hangouts that have not expired yet, soonest first.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			hangouts, err := persister.ListHangouts(ctx, types.HangoutQuery{
				ExpiresAfter: time.Now(),
				ActivityType: types.ActivityType(activity),
			})
			if err != nil {
				globals.AppLogger.Error("could not get hangouts", "error", err)
				return
			}
			printJSON(hangouts)
		},
	}
	cmdHangouts.Flags().StringVar(&activity, "activity", "", "only show hangouts of this activity")

	var cmdDeleteHangout = &cobra.Command{
		Use:   "delete [hangout id]",
		Short: "Delete hangout",
		Long:  `delete removes the hangout with the given id together with its participants, messages and chat images.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			admin, err := actingAdmin()
			if err != nil {
				globals.AppLogger.Error("could not sign in", "error", err)
				return
			}
			images, closeImages := openImages()
			defer closeImages()
			controller := lifecycle.NewController(persister, images, globalConfig.PolicyConfig)
			err = controller.DeleteHangout(ctx, args[0], admin.Id)
			if err != nil {
				globals.AppLogger.Error("could not delete hangout", "error", err)
				return
			}
		},
	}

	var cmdCleanup = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired hangouts",
		Long:  `cleanup runs the expiry sweep once and exits.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			images, closeImages := openImages()
			defer closeImages()
			deleted, err := lifecycle.NewJanitor(persister, images, globalConfig.CleanupConfig).RunOnce(ctx)
			if err != nil {
				globals.AppLogger.Error("could not clean up", "error", err)
				return
			}
			globals.AppLogger.Info("cleanup done", "deleted", deleted)
		},
	}

	var since time.Duration
	var fromIdx, maxCount int
	var cmdChanges = &cobra.Command{
		Use:   "changes",
		Short: "Show change history",
		Long:  `changes prints the recorded change events of the given time window.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			now := time.Now()
			events, err := persister.GetChangeHistory(ctx, now.Add(-since), now, fromIdx, maxCount)
			if err != nil {
				globals.AppLogger.Error("could not get change history", "error", err)
				return
			}
			printJSON(events)
		},
	}
	cmdChanges.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to look")
	cmdChanges.Flags().IntVar(&fromIdx, "from", 0, "index of the first event")
	cmdChanges.Flags().IntVar(&maxCount, "max", 100, "maximum number of events")

	var cmdPromote = &cobra.Command{
		Use:   "promote [email...]",
		Short: "Promote users to admin",
		Long:  `promote grants the admin role to the accounts with the given emails.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			err := authenticator.EnsureAdmins(ctx, args)
			if err != nil {
				globals.AppLogger.Error("could not promote users", "error", err)
				return
			}
		},
	}

	rootCmd.AddCommand(cmdReports, cmdStats, cmdResolve, cmdBan, cmdHangouts, cmdDeleteHangout, cmdCleanup, cmdChanges, cmdPromote)
	cmdBan.AddCommand(cmdBanUser, cmdBanReport)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
