// didadmin is the administrative tool of the ledger: it generates keypairs,
// derives DIDs, signs canonical action digests for offline assembly of
// envelopes and inspects a store file.
package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/didledger/didledger"
	"github.com/didledger/didledger/did"
	"github.com/didledger/didledger/state"
	"github.com/urfave/cli"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/onet/v3/cfgpath"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var cmds = cli.Commands{
	{
		Name:    "keygen",
		Usage:   "generate a keypair and write it to an identity file",
		Aliases: []string{"k"},
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "out, o",
				Usage: "file to write the identity to",
			},
		},
		Action: keygen,
	},
	{
		Name:  "id",
		Usage: "print the DID and method-key identity of an identity file",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "key, k",
				Usage: "identity file",
			},
		},
		Action: showID,
	},
	{
		Name:  "sign",
		Usage: "sign the canonical digest of an action",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "key, k",
				Usage: "identity file of the signer",
			},
			cli.UintFlag{
				Name:  "tag, t",
				Usage: "action tag",
			},
			cli.StringFlag{
				Name:  "target",
				Usage: "hex-encoded target id",
			},
			cli.Uint64Flag{
				Name:  "nonce, n",
				Usage: "nonce the action claims",
			},
			cli.StringFlag{
				Name:  "payload, p",
				Usage: "hex-encoded payload bytes (optional)",
			},
		},
		Action: sign,
	},
	{
		Name:  "store",
		Usage: "list the keys of one bucket in a store file",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "db",
				Usage: "path to the store file",
			},
			cli.StringFlag{
				Name:  "bucket, b",
				Usage: "bucket name",
			},
			cli.BoolFlag{
				Name:  "values, v",
				Usage: "also print the hex values",
			},
		},
		Action: inspect,
	},
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "didadmin"
	cliApp.Usage = "Manage identities and signed actions of the DID ledger."
	cliApp.Version = "0.1"
	cliApp.Commands = cmds
	cliApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
	}
	cliApp.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
	log.ErrFatal(cliApp.Run(os.Args))
}

// identityFile is the TOML form of a stored keypair.
type identityFile struct {
	Suite   string
	Public  string
	Private string
}

func keygen(c *cli.Context) error {
	out := c.String("out")
	if out == "" {
		out = filepath.Join(cfgpath.GetConfigPath("didadmin"), "identity.toml")
	}
	kp := did.NewKeypair()

	pub, err := encoding.PointToStringHex(didledger.Suite, kp.Public)
	if err != nil {
		return err
	}
	priv, err := encoding.ScalarToStringHex(didledger.Suite, kp.Private)
	if err != nil {
		return err
	}
	idf := identityFile{
		Suite:   didledger.Suite.String(),
		Public:  pub,
		Private: priv,
	}

	if err := os.MkdirAll(filepath.Dir(out), 0700); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(idf); err != nil {
		return err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0600); err != nil {
		return err
	}

	log.Lvl1("wrote identity to", out)
	fmt.Fprintln(c.App.Writer, "did:", kp.DidFrom().String())
	fmt.Fprintln(c.App.Writer, "method-key:", kp.MethodKey().String())
	return nil
}

func showID(c *cli.Context) error {
	kp, err := loadIdentity(c.String("key"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "did:", kp.DidFrom().String())
	fmt.Fprintln(c.App.Writer, "method-key:", kp.MethodKey().String())
	return nil
}

func sign(c *cli.Context) error {
	kp, err := loadIdentity(c.String("key"))
	if err != nil {
		return err
	}
	target, err := hex.DecodeString(c.String("target"))
	if err != nil {
		return xerrors.Errorf("decoding target: %v", err)
	}
	var payload []byte
	if p := c.String("payload"); p != "" {
		payload, err = hex.DecodeString(p)
		if err != nil {
			return xerrors.Errorf("decoding payload: %v", err)
		}
	}

	tag := didledger.ActionTag(c.Uint("tag"))
	digest, err := didledger.Canonical(tag, target, c.Uint64("nonce"),
		func(w io.Writer) error {
			_, err := w.Write(payload)
			return err
		})
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(didledger.Suite, kp.Private, digest)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hex.EncodeToString(sig))
	return nil
}

func inspect(c *cli.Context) error {
	db := c.String("db")
	if db == "" {
		return xerrors.New("--db flag is required")
	}
	bucket := c.String("bucket")
	if bucket == "" {
		return xerrors.New("--bucket flag is required")
	}
	store, err := state.NewBoltStore(db)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.ForEach([]byte(bucket), func(key, value []byte) error {
		if c.Bool("values") {
			fmt.Fprintf(c.App.Writer, "%x: %x\n", key, value)
		} else {
			fmt.Fprintf(c.App.Writer, "%x (%d bytes)\n", key, len(value))
		}
		return nil
	})
}

func loadIdentity(fn string) (*did.Keypair, error) {
	if fn == "" {
		return nil, xerrors.New("--key flag is required")
	}
	var idf identityFile
	if _, err := toml.DecodeFile(fn, &idf); err != nil {
		return nil, xerrors.Errorf("reading identity file: %v", err)
	}
	if idf.Suite != didledger.Suite.String() {
		return nil, xerrors.Errorf("unsupported suite %q", idf.Suite)
	}
	pub, err := encoding.StringHexToPoint(didledger.Suite, idf.Public)
	if err != nil {
		return nil, err
	}
	priv, err := encoding.StringHexToScalar(didledger.Suite, idf.Private)
	if err != nil {
		return nil, err
	}
	return &did.Keypair{Public: pub, Private: priv}, nil
}
