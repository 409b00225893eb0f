package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ZeusMonkey/cdl-loan/config"
	"github.com/ZeusMonkey/cdl-loan/native/lending"
	"github.com/ZeusMonkey/cdl-loan/native/oracle"
	"github.com/ZeusMonkey/cdl-loan/native/token"
	"github.com/ZeusMonkey/cdl-loan/observability/logging"
	"github.com/ZeusMonkey/cdl-loan/rpc"
	"github.com/ZeusMonkey/cdl-loan/storage"
)

const authTokenEnv = "CDL_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CDL_ENV"))
	logger := logging.Setup("cdld", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	engine, err := buildEngine(cfg, storage.NewStateStore(db), logger)
	if err != nil {
		logger.Error("Failed to build loan ledger", slog.Any("error", err))
		os.Exit(1)
	}

	authToken := strings.TrimSpace(os.Getenv(authTokenEnv))
	if authToken == "" {
		authToken = cfg.AuthToken
	}
	server := rpc.NewServer(engine, logger, authToken, cfg.RateLimitPerMinute)
	if err := server.Start(cfg.RPCAddress, cfg.MetricsPath); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// buildEngine wires the token ledger, the oracle feed, the pools and the
// engine from the static configuration, restoring any persisted pool tables.
func buildEngine(cfg *config.Config, store *storage.StateStore, logger *slog.Logger) (*lending.Engine, error) {
	ledger := token.NewRegistry()
	feed := oracle.NewManualFeed()
	converter := oracle.NewConverter(feed, ledger)

	reserve, err := parseAddr(cfg.Reserve)
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	treasury, err := parseAddr(cfg.Treasury)
	if err != nil {
		return nil, fmt.Errorf("treasury: %w", err)
	}
	engine := lending.NewEngine(store, ledger, converter, reserve, treasury)
	engine.SetPoolSaver(store)
	engine.SetEmitter(lending.NewLogEmitter(logger))

	params, err := paramsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := engine.SetParams(params); err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}

	for _, tok := range cfg.CollateralTokens {
		tokenAddr, err := parseAddr(tok.Address)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", tok.Symbol, err)
		}
		poolAddr, err := parseAddr(tok.PoolAddress)
		if err != nil {
			return nil, fmt.Errorf("pool for %s: %w", tok.Symbol, err)
		}
		price, ok := new(big.Int).SetString(strings.TrimSpace(tok.PriceUSD), 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("price for %s: invalid %q", tok.Symbol, tok.PriceUSD)
		}
		if err := feed.SetPrice(tokenAddr, price); err != nil {
			return nil, fmt.Errorf("price for %s: %w", tok.Symbol, err)
		}

		var pool *lending.Pool
		if tok.Native {
			if err := ledger.RegisterWrappedNative(tokenAddr, tok.Symbol); err != nil {
				return nil, fmt.Errorf("register %s: %w", tok.Symbol, err)
			}
			pool = lending.NewNativePool(tokenAddr, poolAddr, ledger, cfg.LockDurationSeconds)
		} else {
			if err := ledger.Register(tokenAddr, tok.Symbol, tok.Decimals); err != nil {
				return nil, fmt.Errorf("register %s: %w", tok.Symbol, err)
			}
			pool = lending.NewPool(tokenAddr, poolAddr, ledger, cfg.LockDurationSeconds)
		}
		snapshot, err := store.LoadPoolSnapshot(tokenAddr)
		if err != nil {
			return nil, fmt.Errorf("restore pool %s: %w", tok.Symbol, err)
		}
		if snapshot != nil {
			pool.Restore(snapshot)
			logger.Info("restored pool table", "token", tok.Symbol, "totalLocked", pool.TotalLocked().String())
		}
		if err := engine.RegisterCollateralToken(tokenAddr, pool); err != nil {
			return nil, fmt.Errorf("admit %s: %w", tok.Symbol, err)
		}
		logger.Info("collateral token admitted", "token", tok.Symbol, "address", tokenAddr.Hex(), "native", tok.Native)
	}
	return engine, nil
}

func paramsFromConfig(cfg *config.Config) (lending.Params, error) {
	interest, ok := new(big.Int).SetString(strings.TrimSpace(cfg.InterestPerDay), 10)
	if !ok || interest.Sign() < 0 {
		return lending.Params{}, fmt.Errorf("InterestPerDay: invalid %q", cfg.InterestPerDay)
	}
	penalization, ok := new(big.Int).SetString(strings.TrimSpace(cfg.PenalizationPerDay), 10)
	if !ok || penalization.Sign() < 0 {
		return lending.Params{}, fmt.Errorf("PenalizationPerDay: invalid %q", cfg.PenalizationPerDay)
	}
	return lending.Params{
		CollateralRatio:    cfg.CollateralRatio,
		InterestPerDay:     interest,
		PenalizationPerDay: penalization,
		MaxLoanDays:        cfg.MaxLoanDays,
		LockDuration:       cfg.LockDurationSeconds,
		RepaidSplit: lending.RepaidSplit{
			LP:  lending.Percent(cfg.RepaidSplitLPPercent),
			Dev: lending.Percent(cfg.RepaidSplitDevPercent),
		},
		CalledSplit: lending.CalledSplit{
			LP:       lending.Percent(cfg.CalledSplitLPPercent),
			Dev:      lending.Percent(cfg.CalledSplitDevPercent),
			Recaller: lending.Percent(cfg.CalledSplitRecallerPercent),
		},
	}, nil
}

func parseAddr(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}
