package main

import (
	"encoding/hex"
	"fmt"

	"github.com/signalworks/sigflow/pkg/secrets"
)

type genKeyCmd struct{}

func (cmd *genKeyCmd) Run(_ *globalOptions) error {
	key, err := secrets.GenerateKey()
	if err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(key))
	return nil
}
