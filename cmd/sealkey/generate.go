package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/seal-network/gseal/params"
)

var commandGenerate = &cli.Command{
	Name:      "generate",
	Usage:     "generate a new creator keypair",
	ArgsUsage: "[ <keyfile> ]",
	Description: `
Generate a new RSA-2048 creator keypair.

The private key is written to the given path (default creator.pem) and
the matching public key next to it with a .pub.pem suffix. Register the
public key with a node using the register command.
`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "bits",
			Usage: "RSA modulus size",
			Value: params.MinCreatorKeyBits,
		},
	},
	Action: func(ctx *cli.Context) error {
		keyPath := "creator.pem"
		if ctx.Args().Len() > 0 {
			keyPath = ctx.Args().First()
		}
		if _, err := os.Stat(keyPath); err == nil {
			return fmt.Errorf("refusing to overwrite %s", keyPath)
		}
		bits := ctx.Int("bits")
		if bits < params.MinCreatorKeyBits {
			return fmt.Errorf("modulus must be at least %d bits", params.MinCreatorKeyBits)
		}
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return err
		}

		privPEM := pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
		if err := os.WriteFile(keyPath, privPEM, 0600); err != nil {
			return err
		}
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			return err
		}
		pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
		pubPath := keyPath + ".pub.pem"
		if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
			return err
		}
		fmt.Println("Private key:", keyPath)
		fmt.Println("Public key: ", pubPath)
		return nil
	},
}

var commandInspect = &cli.Command{
	Name:      "inspect",
	Usage:     "print facts about a creator key",
	ArgsUsage: "<keyfile>",
	Action: func(ctx *cli.Context) error {
		if ctx.Args().Len() != 1 {
			return fmt.Errorf("usage: sealkey inspect <keyfile>")
		}
		key, err := loadPrivateKey(ctx.Args().First())
		if err != nil {
			return err
		}
		fmt.Println("Algorithm:   RSA")
		fmt.Println("Modulus bits:", key.N.BitLen())
		fmt.Println("Wrapped key size:", key.Size(), "bytes")
		return nil
	},
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found", path)
	}
	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an RSA key", path)
	}
	return key, nil
}
