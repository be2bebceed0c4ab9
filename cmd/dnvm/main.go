package main

import (
	"context"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/parallax-fi/dnvm/internal/config"
	"github.com/parallax-fi/dnvm/internal/keeper"
	"github.com/parallax-fi/dnvm/internal/lending"
	"github.com/parallax-fi/dnvm/internal/logger"
	"github.com/parallax-fi/dnvm/internal/oracle"
	"github.com/parallax-fi/dnvm/internal/rates"
	"github.com/parallax-fi/dnvm/internal/state"
	"github.com/parallax-fi/dnvm/internal/types"
	"github.com/parallax-fi/dnvm/internal/vault"
	"github.com/parallax-fi/dnvm/internal/venue"
	"github.com/parallax-fi/dnvm/internal/web"
)

// The simulated venue runs against this pair. A live venue adapter would
// take its pair from chain metadata instead.
var (
	tokenETH  = types.Token{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18}
	tokenUSDC = types.Token{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}
)

// main is the entry point for the delta-neutral vault manager.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Delta-neutral vault manager starting...")

	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: int(config.DBPort),
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load vault parameters, falling back to defaults on first boot.
	params, err := state.GetActiveVaultParameters(config.VaultName)
	if err != nil {
		log.Warn().Err(err).Msg("No active vault parameters found, using defaults and saving.")
		params = config.DefaultVaultParameters(config.TreasuryAddress)
		if _, err := state.SaveVaultParameters(config.VaultName, params); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default vault parameters.")
		}
	}
	log.Info().Msg("Vault parameters loaded successfully.")

	// --- 2. Oracle and Lending Setup ---
	ethFeed := oracle.NewStaticFeed(sdkmath.LegacyNewDec(3000), time.Now())
	usdcFeed := oracle.NewStaticFeed(sdkmath.LegacyOneDec(), time.Now())

	// The static feeds stand in for a live price source; keep their
	// timestamps fresh so the staleness guard only fires when a real feed
	// integration stops updating.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			ethFeed.Set(sdkmath.LegacyNewDec(3000), time.Now())
			usdcFeed.Set(sdkmath.LegacyOneDec(), time.Now())
		}
	}()

	priceOracle := oracle.New()
	for _, wiring := range []struct {
		token types.Token
		feed  *oracle.StaticFeed
	}{
		{tokenETH, ethFeed},
		{tokenUSDC, usdcFeed},
	} {
		if err := priceOracle.AddTokenPriceFeed(wiring.token, wiring.feed); err != nil {
			log.Fatal().Err(err).Msg("Failed to register price feed")
		}
		if err := priceOracle.AddTokenFallbackFeed(wiring.token, wiring.feed); err != nil {
			log.Fatal().Err(err).Msg("Failed to register fallback feed")
		}
		if err := priceOracle.AddTokenMaxDeviation(wiring.token, sdkmath.LegacyNewDecWithPrec(5, 2)); err != nil {
			log.Fatal().Err(err).Msg("Failed to set max deviation")
		}
		if err := priceOracle.AddTokenMaxDelay(wiring.token, 5*time.Minute); err != nil {
			log.Fatal().Err(err).Msg("Failed to set max delay")
		}
	}

	rateModel, err := rates.NewModel(config.DefaultRateParams(), config.DefaultRateMaxParams())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create interest rate model")
	}

	poolETH, err := lending.NewPool(tokenETH, rateModel,
		sdkmath.LegacyNewDec(10_000), sdkmath.LegacyNewDec(9_000))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create WETH lending pool")
	}
	poolUSDC, err := lending.NewPool(tokenUSDC, rateModel,
		sdkmath.LegacyNewDec(30_000_000), sdkmath.LegacyNewDec(27_000_000))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create USDC lending pool")
	}

	// --- 3. Venue and Vault Wiring ---
	sim, err := venue.NewSim(tokenETH, tokenUSDC, priceOracle,
		sdkmath.LegacyNewDec(5_000),      // WETH reserve
		sdkmath.LegacyNewDec(15_000_000), // USDC reserve
		sdkmath.LegacyNewDec(1_000_000))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create simulated venue")
	}

	strategyVault, err := vault.New(vault.Config{
		Name:     config.VaultName,
		Owner:    config.OwnerAddress,
		TokenA:   tokenETH,
		TokenB:   tokenUSDC,
		Params:   params,
		Venue:    sim,
		LendingA: poolETH,
		LendingB: poolUSDC,
		Oracle:   priceOracle,
		Pool:     sim,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create strategy vault")
	}
	sim.SetSink(strategyVault)

	poolETH.ApproveBorrower(config.VaultName)
	poolUSDC.ApproveBorrower(config.VaultName)
	if err := strategyVault.ApproveKeeper(config.OwnerAddress, config.KeeperAddress); err != nil {
		log.Fatal().Err(err).Msg("Failed to approve keeper")
	}

	strategyVault.SetReceiptSink(func(r types.ActionReceipt) {
		if _, err := state.SaveActionReceipt(config.VaultName, r); err != nil {
			log.Error().Err(err).Str("request_key", r.RequestKey).Msg("Failed to persist action receipt")
		}
	})

	// --- 4. Web Dashboard ---
	webServer := web.NewWebServer(config.WebListenAddr, config.VaultName, strategyVault)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Keeper Loop ---
	keeperInstance, err := keeper.NewKeeper(keeper.Config{
		Address: config.KeeperAddress,
		Vault:   strategyVault,
		Settler: sim,
		Snapshots: func(cycleID string, snap types.HealthSnapshot) error {
			_, err := state.SaveHealthSnapshot(config.VaultName, cycleID, snap)
			return err
		},
		Slippage:     params.MinSlippage,
		ExecutionFee: params.MinExecutionFee,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper")
	}

	interval := time.Duration(config.CycleIntervalSeconds) * time.Second
	log.Info().Str("interval", interval.String()).Msg("Starting keeper loop")
	keeperInstance.RunLoop(context.Background(), interval)
}
