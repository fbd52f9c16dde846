package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/miner"
)

var commandRegister = &cli.Command{
	Name:  "register",
	Usage: "register a creator public key with a node",
	Flags: []cli.Flag{nodeFlag, keyFlag, nameFlag},
	Action: func(ctx *cli.Context) error {
		name := ctx.String(nameFlag.Name)
		if err := types.ValidateDisplayName(name); err != nil {
			return err
		}
		pubPEM, err := os.ReadFile(ctx.String(keyFlag.Name) + ".pub.pem")
		if err != nil {
			return err
		}
		client := newAPIClient(ctx.String(nodeFlag.Name))
		var resp struct {
			CreatorID string `json:"creator_id"`
		}
		err = client.post("/creators", map[string]string{
			"display_name":   name,
			"public_key_pem": string(pubPEM),
		}, &resp)
		if err != nil {
			return err
		}
		fmt.Println("Registered creator", name, "as", resp.CreatorID)
		return nil
	},
}

var commandSeal = &cli.Command{
	Name:      "seal",
	Usage:     "seal a record into the ledger",
	ArgsUsage: "<plaintext file>",
	Description: `
Seal runs the full client side of the two-phase protocol: it requests
pre-image material from the node, encrypts the plaintext under the
creator key, searches for a nonce satisfying the difficulty, signs the
winning hash and submits the finished block. On tip-moved the whole
round restarts against the new tip.
`,
	Flags: []cli.Flag{nodeFlag, keyFlag, nameFlag},
	Action: func(ctx *cli.Context) error {
		if ctx.Args().Len() != 1 {
			return fmt.Errorf("usage: sealkey seal <plaintext file>")
		}
		plaintext, err := os.ReadFile(ctx.Args().First())
		if err != nil {
			return err
		}
		key, err := loadPrivateKey(ctx.String(keyFlag.Name))
		if err != nil {
			return err
		}
		client := newAPIClient(ctx.String(nodeFlag.Name))
		worker := miner.NewWorker(key)
		name := ctx.String(nameFlag.Name)

		for attempt := 1; ; attempt++ {
			var prep miner.Preparation
			err := client.post("/blocks/prepare-mining", map[string]string{
				"display_name": name,
				"data_text":    string(plaintext),
			}, &prep)
			if err != nil {
				return err
			}

			mineCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(prep.MiningTimeoutMs)*time.Millisecond)
			payload, err := worker.SealAndMine(mineCtx, &prep, plaintext)
			cancel()
			if err != nil {
				return fmt.Errorf("mining: %w", err)
			}

			var resp struct {
				Block struct {
					BlockNumber uint64 `json:"block_number"`
					BlockHash   string `json:"block_hash"`
				} `json:"block"`
			}
			err = client.post("/blocks/commit", commitBody(payload), &resp)
			if apiErr, ok := err.(*apiError); ok && apiErr.Code == "tip-moved" {
				fmt.Println("Tip moved, re-mining (attempt", attempt, ")")
				continue
			}
			if err != nil {
				return err
			}
			fmt.Println("Sealed block", resp.Block.BlockNumber, "hash", resp.Block.BlockHash)
			return nil
		}
	},
}

// commitBody renders a payload in the commit wire form: binary fields as
// lowercase hex.
func commitBody(p *miner.CommitPayload) map[string]interface{} {
	return map[string]interface{}{
		"creator_id":         p.CreatorID.String(),
		"previous_hash":      p.PreviousHash,
		"block_hash":         p.BlockHash,
		"nonce":              p.Nonce,
		"difficulty":         p.Difficulty,
		"encrypted_data":     hex.EncodeToString(p.EncryptedData),
		"data_iv":            hex.EncodeToString(p.DataIV),
		"encrypted_data_key": hex.EncodeToString(p.EncryptedDataKey),
		"data_size":          p.DataSize,
		"signature":          hex.EncodeToString(p.Signature),
		"created_at":         p.CreatedAt,
		"mining_duration_ms": p.MiningDurationMs,
	}
}

var commandOpen = &cli.Command{
	Name:  "open",
	Usage: "fetch and decrypt all records sealed by a creator",
	Flags: []cli.Flag{nodeFlag, keyFlag,
		&cli.StringFlag{Name: "creator-id", Usage: "creator UUID", Required: true},
	},
	Action: func(ctx *cli.Context) error {
		key, err := loadPrivateKey(ctx.String(keyFlag.Name))
		if err != nil {
			return err
		}
		client := newAPIClient(ctx.String(nodeFlag.Name))
		var resp struct {
			Blocks []*types.Envelope `json:"blocks"`
		}
		if err := client.get("/decrypt/blocks/"+ctx.String("creator-id"), &resp); err != nil {
			return err
		}
		worker := miner.NewWorker(key)
		for _, env := range resp.Blocks {
			plaintext, err := worker.Decrypt(env)
			if err != nil {
				fmt.Printf("block %d: decrypt failed: %v\n", env.BlockNumber, err)
				continue
			}
			fmt.Printf("block %d (%s, verified=%v):\n%s\n",
				env.BlockNumber, env.CreatedAt.Format(time.RFC3339), env.Verified, plaintext)
		}
		return nil
	},
}
