package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/signalworks/sigflow/pkg/secrets"
)

type encryptCmd struct {
	Value   string `arg:"" optional:"" help:"Plaintext to encrypt. Read from stdin when omitted"`
	Key     string `help:"Encryption key as hex. Falls back to SIGFLOW_ENCRYPTION_KEY"`
	KeyFile string `help:"File holding the encryption key as hex" type:"path"`
}

func (cmd *encryptCmd) Run(_ *globalOptions) error {
	codec, err := secrets.NewCodecFromConfig(cmd.Key, cmd.KeyFile)
	if err != nil {
		return err
	}

	plain, err := valueOrStdin(cmd.Value)
	if err != nil {
		return err
	}

	enc, err := codec.EncryptString(plain)
	if err != nil {
		return err
	}

	fmt.Println(enc)
	return nil
}

type decryptCmd struct {
	Value   string `arg:"" optional:"" help:"Ciphertext to decrypt. Read from stdin when omitted"`
	Key     string `help:"Encryption key as hex. Falls back to SIGFLOW_ENCRYPTION_KEY"`
	KeyFile string `help:"File holding the encryption key as hex" type:"path"`
}

func (cmd *decryptCmd) Run(_ *globalOptions) error {
	codec, err := secrets.NewCodecFromConfig(cmd.Key, cmd.KeyFile)
	if err != nil {
		return err
	}

	enc, err := valueOrStdin(cmd.Value)
	if err != nil {
		return err
	}

	plain, err := codec.DecryptString(strings.TrimSpace(enc))
	if err != nil {
		return err
	}

	fmt.Println(plain)
	return nil
}

func valueOrStdin(value string) (string, error) {
	if value != "" {
		return value, nil
	}

	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\n"), nil
}
