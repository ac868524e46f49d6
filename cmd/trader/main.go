package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fundingarb/trader/api"
	"github.com/fundingarb/trader/internal/config"
	"github.com/fundingarb/trader/pkg/asterdex"
	"github.com/fundingarb/trader/pkg/executor"
	"github.com/fundingarb/trader/pkg/spread"
	"github.com/fundingarb/trader/pkg/strategy"
)

var (
	configPath string
	logger     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Delta-neutral futures/spot lot execution",
	Long: `trader opens and closes delta-neutral positions on AsterDEX by
shorting the perpetual and holding spot, executing in spread-gated lots.`,
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a delta-neutral position in lots",
	Run:   runOpen,
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close part of a delta-neutral position in lots",
	Run:   runClose,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream the live futures/spot spread",
	Run:   runWatch,
}

var (
	flagSymbol       string
	flagTotalUSD     float64
	flagLotUSD       float64
	flagClosePercent float64
	flagLotPercent   float64
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&flagSymbol, "symbol", "s", "BTCUSDT", "trading pair symbol")

	openCmd.Flags().Float64Var(&flagTotalUSD, "total", 0, "total size per leg in USD")
	openCmd.Flags().Float64Var(&flagLotUSD, "lot", 0, "maximum lot size per leg in USD")
	openCmd.MarkFlagRequired("total")
	openCmd.MarkFlagRequired("lot")

	closeCmd.Flags().Float64Var(&flagClosePercent, "percent", 100, "percentage of the position to close")
	closeCmd.Flags().Float64Var(&flagLotPercent, "lot-percent", 10, "percentage of the position per lot")

	rootCmd.AddCommand(openCmd, closeCmd, watchCmd)
}

func main() {
	godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}

// runtime bundles everything a subcommand needs after setup.
type runtime struct {
	cfg      *config.Config
	futures  *asterdex.FuturesClient
	spot     *asterdex.SpotClient
	exec     *executor.DualLeg
	progress *strategy.Progress
}

func setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		return nil, err
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	auth, err := buildAuthenticator(cfg)
	if err != nil {
		return nil, err
	}

	futures := asterdex.NewFuturesClient(cfg.Venue.Futures.BaseURL, auth, cfg.Venue.RequestsPerSecond, logger)
	spot := asterdex.NewSpotClient(cfg.Venue.Spot.BaseURL, auth, cfg.Venue.RequestsPerSecond, logger)

	checker := spread.NewChecker(futures, spot, cfg.Trading.MaxSpreadPercent, cfg.Trading.RetryDelay(), logger)
	exec := executor.NewDualLeg(futures, spot, checker, cfg.Trading.OrderFollowUp(), logger)

	rt := &runtime{cfg: cfg, futures: futures, spot: spot, exec: exec}

	if cfg.Server.Enabled {
		rt.progress = strategy.NewProgress()
		srv := api.NewServer(rt.progress, cfg.Server.Port, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.WithError(err).Error("Status server failed")
			}
		}()
	}

	return rt, nil
}

func buildAuthenticator(cfg *config.Config) (asterdex.Authenticator, error) {
	switch asterdex.AuthType(cfg.Venue.AuthType) {
	case asterdex.AuthTypeJWT:
		if cfg.Venue.APIKeyName == "" || cfg.Venue.PrivateKeyPEM == "" {
			return nil, fmt.Errorf("jwt auth requires api_key_name and private_key_pem")
		}
		return asterdex.NewJWTAuthenticator(cfg.Venue.APIKeyName, cfg.Venue.PrivateKeyPEM)
	case asterdex.AuthTypeHMAC, "":
		if cfg.Venue.APIKey == "" || cfg.Venue.APISecret == "" {
			return nil, fmt.Errorf("hmac auth requires api_key and api_secret")
		}
		return asterdex.NewHMACAuthenticator(cfg.Venue.APIKey, cfg.Venue.APISecret), nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Venue.AuthType)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runOpen(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := setup(ctx)
	if err != nil {
		logger.Fatal(err)
	}

	open := strategy.NewOpen(rt.futures, rt.spot, rt.exec, rt.cfg.Trading.RetryDelay(), logger).
		WithProgress(rt.progress)

	// Partial completion due to balance still exits zero; only fatal
	// errors fail the process.
	if _, err := open.Run(ctx, flagSymbol, flagTotalUSD, flagLotUSD); err != nil {
		logger.Fatal(err)
	}
}

func runClose(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := setup(ctx)
	if err != nil {
		logger.Fatal(err)
	}

	cls := strategy.NewClose(
		rt.futures, rt.spot, rt.exec,
		rt.cfg.Trading.RetryDelay(), rt.cfg.Trading.RetryDelay(), rt.cfg.Trading.MaxRetries,
		logger,
	).WithProgress(rt.progress)

	if _, err := cls.Run(ctx, flagSymbol, flagClosePercent, flagLotPercent); err != nil {
		logger.Fatal(err)
	}
}

// runWatch streams top-of-book from both legs over websocket and logs
// the live spread against the configured threshold.
func runWatch(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := setup(ctx)
	if err != nil {
		logger.Fatal(err)
	}

	var futMid, spotMid float64
	report := func() {
		if futMid <= 0 || spotMid <= 0 {
			return
		}
		diff := spread.DiffPercent(futMid, spotMid)
		logger.WithFields(logrus.Fields{
			"symbol":       flagSymbol,
			"futures_mid":  futMid,
			"spot_mid":     spotMid,
			"diff_percent": fmt.Sprintf("%.4f", diff),
			"within":       diff <= rt.cfg.Trading.MaxSpreadPercent,
		}).Info("Spread")
	}

	updates := make(chan func(), 64)

	futStream := asterdex.NewBookTickerStream(rt.cfg.Venue.Futures.WSURL, flagSymbol, func(t asterdex.BookTicker) {
		mid := t.Mid()
		updates <- func() { futMid = mid; report() }
	}, logger)
	spotStream := asterdex.NewBookTickerStream(rt.cfg.Venue.Spot.WSURL, flagSymbol, func(t asterdex.BookTicker) {
		mid := t.Mid()
		updates <- func() { spotMid = mid; report() }
	}, logger)

	if err := futStream.Connect(ctx); err != nil {
		logger.Fatal(err)
	}
	defer futStream.Close()
	if err := spotStream.Connect(ctx); err != nil {
		logger.Fatal(err)
	}
	defer spotStream.Close()

	logger.WithField("symbol", flagSymbol).Info("Watching spread, Ctrl-C to stop")
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			update()
		}
	}
}
