package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/vault/shamir"
	"github.com/urfave/cli/v2"

	"github.com/satnamapp/federation-guardian-backend/common"
	"github.com/satnamapp/federation-guardian-backend/cryptoutils"
)

func main() {
	app := &cli.App{
		Name:  "shardtool",
		Usage: "Split and recombine guardian custody secrets",
		Commands: []*cli.Command{
			{
				Name:  "split",
				Usage: "Split a secret into Shamir shares, one file per guardian",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "secret-hex",
						Required: true,
						Usage:    "hex-encoded secret to split",
					},
					&cli.IntFlag{
						Name:  "shares",
						Value: 5,
						Usage: "total number of shares to produce",
					},
					&cli.IntFlag{
						Name:  "threshold",
						Value: 3,
						Usage: "shares required to reconstruct the secret",
					},
					&cli.StringFlag{
						Name:  "out-dir",
						Value: ".",
						Usage: "directory to write share files into",
					},
					&cli.StringSliceFlag{
						Name:  "recipient-key",
						Usage: "PEM public key file to encrypt a share to, one per share (optional)",
					},
					&cli.BoolFlag{
						Name:  "log-json",
						Value: false,
						Usage: "log in JSON format",
					},
					&cli.BoolFlag{
						Name:  "log-debug",
						Value: false,
						Usage: "log debug messages",
					},
				},
				Action: runSplit,
			},
			{
				Name:  "combine",
				Usage: "Reconstruct a secret from share files",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "share-file",
						Required: true,
						Usage:    "hex share file (repeatable, at least threshold many)",
					},
				},
				Action: runCombine,
			},
			{
				Name:   "keygen",
				Usage:  "Generate a recipient keypair for encrypted share delivery",
				Action: runKeygen,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out-prefix",
						Value: "recipient",
						Usage: "path prefix for the generated .pub.pem and .key.pem files",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runSplit(cCtx *cli.Context) error {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool("log-debug"),
		JSON:    cCtx.Bool("log-json"),
		Service: "shardtool",
		Version: common.Version,
	})

	secret, err := hex.DecodeString(cCtx.String("secret-hex"))
	if err != nil || len(secret) == 0 {
		return errors.New("secret-hex must be non-empty hex")
	}

	total := cCtx.Int("shares")
	threshold := cCtx.Int("threshold")
	if threshold < 2 || total < threshold {
		return fmt.Errorf("need shares >= threshold >= 2, got %d/%d", total, threshold)
	}

	recipientKeys := cCtx.StringSlice("recipient-key")
	if len(recipientKeys) > 0 && len(recipientKeys) != total {
		return fmt.Errorf("got %d recipient keys for %d shares", len(recipientKeys), total)
	}

	shares, err := shamir.Split(secret, total, threshold)
	if err != nil {
		return fmt.Errorf("failed to split secret: %w", err)
	}

	outDir := cCtx.String("out-dir")
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return err
	}

	for i, share := range shares {
		data := share
		suffix := "share"

		if len(recipientKeys) > 0 {
			pubPEM, err := os.ReadFile(recipientKeys[i])
			if err != nil {
				return fmt.Errorf("failed to read recipient key %s: %w", recipientKeys[i], err)
			}
			data, err = cryptoutils.EncryptToRecipient(pubPEM, share)
			if err != nil {
				return fmt.Errorf("failed to encrypt share %d: %w", i+1, err)
			}
			suffix = "share.enc"
		}

		path := filepath.Join(outDir, fmt.Sprintf("guardian-%d.%s", i+1, suffix))
		if err := os.WriteFile(path, []byte(hex.EncodeToString(data)), 0o600); err != nil {
			return fmt.Errorf("failed to write share %d: %w", i+1, err)
		}
		logger.Info("Share written", "path", path)
	}

	logger.Info("Secret split", "shares", total, "threshold", threshold)
	return nil
}

func runCombine(cCtx *cli.Context) error {
	var shares [][]byte
	for _, path := range cCtx.StringSlice("share-file") {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		share, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return fmt.Errorf("malformed share in %s: %w", path, err)
		}
		shares = append(shares, share)
	}

	secret, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to combine shares: %w", err)
	}

	fmt.Println(hex.EncodeToString(secret))
	return nil
}

func runKeygen(cCtx *cli.Context) error {
	pubPEM, privPEM, err := cryptoutils.GenerateRecipientKeypair()
	if err != nil {
		return err
	}

	prefix := cCtx.String("out-prefix")
	if err := os.WriteFile(prefix+".pub.pem", pubPEM, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(prefix+".key.pem", privPEM, 0o600); err != nil {
		return err
	}

	fmt.Printf("wrote %s.pub.pem and %s.key.pem\n", prefix, prefix)
	return nil
}
