// Command obkeys generates gateway secrets and opens sealed grants for debugging.
//
//	obkeys gen              print a fresh AES key, API token and its digest
//	obkeys digest <token>   print the API_TOKEN_SHA256 of a token
//	obkeys open <sealed>    decrypt a sealed grant with AES_256_KEY_BASE64
package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"obgateway/internal/crypto"
)

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "gen":
		key := random(crypto.KeySize)
		token := hex.EncodeToString(random(24))
		fmt.Printf("AES_256_KEY_BASE64=%s\n", base64.StdEncoding.EncodeToString(key))
		fmt.Printf("API_TOKEN=%s\n", token)
		fmt.Printf("API_TOKEN_SHA256=%s\n", digest(token))
	case "digest":
		if len(os.Args) != 3 {
			usage()
		}
		fmt.Println(digest(os.Args[2]))
	case "open":
		if len(os.Args) != 3 {
			usage()
		}
		key, err := crypto.ParseKey(os.Getenv("AES_256_KEY_BASE64"))
		if err != nil {
			fail("AES_256_KEY_BASE64: %v", err)
		}
		pt, err := crypto.DecryptString(key, os.Args[2])
		if err != nil {
			fail("open: %v", err)
		}
		fmt.Println(pt)
	default:
		usage()
	}
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func random(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		fail("random: %v", err)
	}
	return b
}

func usage() {
	fail("usage: obkeys gen | digest <token> | open <sealed>")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
