package main

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"go.uber.org/zap"

	"github.com/sigilhold/slashguard/diagnostics"
	"github.com/sigilhold/slashguard/interchange"
	"github.com/sigilhold/slashguard/store"
)

var CLI struct {
	DbPath                string `env:"DB_PATH" description:"Path to the slashing-protection database file" default:"slashguard.sqlite"`
	GenesisValidatorsRoot string `env:"GENESIS_VALIDATORS_ROOT" description:"0x-prefixed genesis validators root, required by import/export"`
	Dev                   bool   `env:"DEV" description:"Use a human-readable development logger instead of the production JSON logger"`

	Serve struct {
		Addr string `env:"ADDR" description:"Address to listen on" default:":9369"`
	} `cmd:"" help:"Serve the read-only diagnostics HTTP surface."`

	Register struct {
		PubKeys []string `arg:"" name:"pubkey" help:"0x-prefixed BLS public keys to register."`
	} `cmd:"" help:"Register one or more validators, idempotently."`

	Import struct {
		Path string `arg:"" name:"path" help:"Path to an interchange JSON file to import."`
	} `cmd:"" help:"Import a slashing-protection interchange file."`

	Export struct {
		Path string `arg:"" name:"path" help:"Path to write the exported interchange JSON file."`
	} `cmd:"" help:"Export the store to a slashing-protection interchange file."`
}

func main() {
	ctx := kong.Parse(&CLI, kong.Description("Slashing-protection store for a PoS validator."))

	var logger *zap.Logger
	var err error
	if CLI.Dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	logger.Debug("starting slashguard",
		zap.String("command", ctx.Command()),
		zap.String("db_path", CLI.DbPath),
	)

	st, err := store.OpenOrCreate(CLI.DbPath)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	switch ctx.Command() {
	case "serve":
		srv := diagnostics.NewServer(logger, st)
		logger.Fatal("ListenAndServe", zap.Error(http.ListenAndServe(CLI.Serve.Addr, srv)))

	case "register <pubkey>":
		runRegister(context.Background(), logger, st)

	case "import <path>":
		runImport(context.Background(), logger, st)

	case "export <path>":
		runExport(context.Background(), logger, st)

	default:
		logger.Fatal("unknown command", zap.String("command", ctx.Command()))
	}
}

func runRegister(ctx context.Context, logger *zap.Logger, st *store.Store) {
	pubKeys := make([]phase0.BLSPubKey, len(CLI.Register.PubKeys))
	for i, s := range CLI.Register.PubKeys {
		pubKey, err := decodePubKey(s)
		if err != nil {
			logger.Fatal("invalid public key", zap.String("pubkey", s), zap.Error(err))
		}
		pubKeys[i] = pubKey
	}
	if err := st.RegisterValidators(ctx, pubKeys); err != nil {
		logger.Fatal("failed to register validators", zap.Error(err))
	}
	logger.Info("registered validators", zap.Int("count", len(pubKeys)))
}

func runImport(ctx context.Context, logger *zap.Logger, st *store.Store) {
	genesisRoot, err := decodeRoot(CLI.GenesisValidatorsRoot)
	if err != nil {
		logger.Fatal("invalid genesis validators root", zap.Error(err))
	}
	f, err := os.Open(CLI.Import.Path)
	if err != nil {
		logger.Fatal("failed to open interchange file", zap.Error(err))
	}
	defer f.Close()

	if err := interchange.Import(ctx, st, genesisRoot, f); err != nil {
		logger.Fatal("import failed", zap.Error(err))
	}
	logger.Info("import complete", zap.String("path", CLI.Import.Path))
}

func runExport(ctx context.Context, logger *zap.Logger, st *store.Store) {
	genesisRoot, err := decodeRoot(CLI.GenesisValidatorsRoot)
	if err != nil {
		logger.Fatal("invalid genesis validators root", zap.Error(err))
	}
	doc, err := interchange.Export(ctx, st, genesisRoot)
	if err != nil {
		logger.Fatal("export failed", zap.Error(err))
	}

	raw, err := doc.MarshalJSON()
	if err != nil {
		logger.Fatal("failed to marshal interchange document", zap.Error(err))
	}
	if err := os.WriteFile(CLI.Export.Path, raw, 0o600); err != nil {
		logger.Fatal("failed to write interchange file", zap.Error(err))
	}
	logger.Info("export complete", zap.String("path", CLI.Export.Path))
}

func decodePubKey(s string) (phase0.BLSPubKey, error) {
	var pubKey phase0.BLSPubKey
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return pubKey, err
	}
	copy(pubKey[:], b)
	return pubKey, nil
}

func decodeRoot(s string) (phase0.Root, error) {
	var root phase0.Root
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return root, err
	}
	copy(root[:], b)
	return root, nil
}
