package main

import (
	"context"
	"crypto/rsa"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/VladKvetkin/minimart/internal/callback"
	"github.com/VladKvetkin/minimart/internal/config"
	"github.com/VladKvetkin/minimart/internal/gateway"
	"github.com/VladKvetkin/minimart/internal/handler"
	"github.com/VladKvetkin/minimart/internal/ledger"
	"github.com/VladKvetkin/minimart/internal/notifier"
	"github.com/VladKvetkin/minimart/internal/payment"
	"github.com/VladKvetkin/minimart/internal/server"
	"github.com/VladKvetkin/minimart/internal/services/jwttoken"
	"github.com/VladKvetkin/minimart/internal/settlement"
	"github.com/VladKvetkin/minimart/internal/storage"
	"github.com/VladKvetkin/minimart/internal/withdrawal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	transferSceneInfoType    = "岗位类型"
	transferSceneInfoContent = "推广员"
)

func main() {
	os.Exit(start())
}

func start() int {
	config, err := config.NewConfig()
	if err != nil {
		zap.L().Info("error create config", zap.Error(err))
		return 1
	}

	logger, err := newLogger(config.Debug)
	if err != nil {
		zap.L().Info("error create logger", zap.Error(err))
		return 1
	}

	zap.ReplaceGlobals(logger)

	defer zap.L().Sync()

	db, err := storage.Open(config.DatabaseDriver, config.DatabaseURI)
	if err != nil {
		zap.L().Info("error failed to connect to db", zap.Error(err))
		return 1
	}

	defer db.Close()

	sqlStorage, err := storage.NewSQLStorage(db)
	if err != nil {
		zap.L().Info("error failed to create storage", zap.Error(err))
		return 1
	}

	commissionRate, err := config.CommissionRate()
	if err != nil {
		zap.L().Info("error parse commission rate", zap.Error(err))
		return 1
	}

	var (
		signer       *gateway.Signer
		platformKeys map[string]*rsa.PublicKey
	)

	if config.MerchantConfigured() {
		privateKey, err := gateway.LoadPrivateKey(config.MchPrivateKeyPath)
		if err != nil {
			zap.L().Info("error load merchant private key", zap.Error(err))
			return 1
		}

		signer = gateway.NewSigner(config.AppID, config.MchID, config.MchCertSerial, privateKey)

		platformKeys, err = gateway.LoadPlatformKeys(config.PlatformCertPaths, config.PlatformKeyPath, config.PlatformPublicKeyID)
		if err != nil {
			zap.L().Info("error load platform keys", zap.Error(err))
			return 1
		}
	} else {
		zap.L().Warn("merchant credentials missing, payment gateway runs in simulated mode")
	}

	if config.LedgerAddress == "" {
		zap.L().Warn("legacy ledger address missing, paid order notifications will be retried until it is set")
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:           config.GatewayBaseURL,
		AppID:             config.AppID,
		MchID:             config.MchID,
		NotifyURL:         config.NotifyURL,
		TransferNotifyURL: config.TransferNotifyURL,
		TransferSceneID:   config.TransferSceneID,
		Timeout:           config.GatewayTimeout,
	}, signer)

	orderLedger := ledger.NewLedger(sqlStorage)

	paidNotifier := notifier.NewNotifier(
		notifier.NewLegacyLedgerClient(config.LedgerAddress, config.NotifyTimeout),
		sqlStorage,
		sqlStorage,
		notifier.Config{
			Attempts:      config.NotifyAttempts,
			Backoff:       config.NotifyBackoff,
			Workers:       config.NotifyWorkers,
			SweepInterval: config.NotifySweepInterval,
		},
	)

	orchestrator := withdrawal.NewOrchestrator(
		sqlStorage,
		sqlStorage,
		sqlStorage,
		settlement.NewVerifier(gatewayClient, 0),
		gatewayClient,
		withdrawal.Config{
			SingleLimit:       config.WithdrawSingleLimit,
			DailyLimit:        config.WithdrawDailyLimit,
			DefaultRate:       commissionRate,
			SceneReportInfo:   []gateway.SceneReportInfo{{InfoType: transferSceneInfoType, InfoContent: transferSceneInfoContent}},
			ReconcileAfter:    config.TransferReconcileAfter,
			ReconcileInterval: config.TransferReconcileInterval,
		},
	)

	processor := callback.NewProcessor(
		gateway.NewVerifier(platformKeys, config.APIV3Key),
		orderLedger,
		paidNotifier,
		orchestrator,
		config.CallbackMaxAge,
	)

	tokens := jwttoken.NewManager(config.JWTSecret)

	server := server.NewServer(
		config,
		handler.NewHandler(
			sqlStorage,
			payment.NewService(sqlStorage, sqlStorage, orderLedger, gatewayClient),
			orchestrator,
			processor,
			tokens,
			config.Debug,
		),
		tokens,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := server.Start(); err != nil {
			zap.L().Info("error starting server", zap.Error(err))
			return err
		}

		return nil
	})

	eg.Go(func() error {
		if err := paidNotifier.Start(ctx); err != nil {
			zap.L().Info("error starting notifier", zap.Error(err))
			return err
		}

		return nil
	})

	eg.Go(func() error {
		if err := orchestrator.Start(ctx); err != nil {
			zap.L().Info("error starting transfer reconciler", zap.Error(err))
			return err
		}

		return nil
	})

	<-ctx.Done()

	eg.Go(func() error {
		if err := server.Stop(); err != nil {
			zap.L().Info("error stopping server", zap.Error(err))
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return 1
	}

	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}
