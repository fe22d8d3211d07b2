// Command gensecret prints random hex encoded key suitable for --secret-key
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// HS256 needs at least 32 bytes of key
const minSecretKeyBytesLen = 32

func main() {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	size := fs.IntP("bytes", "b", minSecretKeyBytesLen, "Key length in bytes")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	key, err := generate(*size)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(key)
}

func generate(size int) (string, error) {
	if size < minSecretKeyBytesLen {
		return "", fmt.Errorf("key must be at least %d bytes long", minSecretKeyBytesLen)
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
