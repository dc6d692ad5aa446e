// ro2dump decodes a text capture of a ProudNet session into a frame table.
//
// Capture format: one TCP chunk per line, "C <hex>" for client bytes and
// "S <hex>" for server bytes. Lines starting with # are comments.
//
// Usage:
//
//	go run ./cmd/ro2dump -in session.txt -server-key keys/server.pem
//	go run ./cmd/ro2dump -in session.txt -key 0102030405060708090a0b0c0d0e0f10
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/udisondev/rag2go/internal/capture"
	"github.com/udisondev/rag2go/internal/crypto"
)

// maxBodyHex limits the body column so wide messages keep the table readable.
const maxBodyHex = 32

func main() {
	in := flag.String("in", "-", "capture file, - for stdin")
	key := flag.String("key", "", "session key as hex")
	serverKey := flag.String("server-key", "", "server RSA private key (PEM) to recover the session key from 0x05")
	mode := flag.String("mode", string(crypto.ModeAESECB), "cipher mode: aes-ecb or chacha20-poly1305")
	full := flag.Bool("full", false, "print whole bodies")
	flag.Parse()

	if err := run(*in, *key, *serverKey, *mode, *full); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(in, key, serverKey, mode string, full bool) error {
	opts := capture.Options{}

	m, err := crypto.ParseMode(mode)
	if err != nil {
		return err
	}
	opts.Mode = m

	if key != "" {
		opts.SessionKey, err = hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("parsing -key: %w", err)
		}
	}
	if serverKey != "" {
		opts.ServerKey, err = crypto.LoadKeyPair(serverKey)
		if err != nil {
			return err
		}
	}

	var r io.Reader = os.Stdin
	if in != "-" {
		f, err := os.Open(in)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	d, err := capture.NewDecoder(opts)
	if err != nil {
		return err
	}
	recs, decodeErr := d.ReadAll(r)

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"#", "Dir", "Frame", "Size", "Depth", "Message", "Body", "Note"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for i, rec := range recs {
		depth := "-"
		if rec.Depth > 0 {
			depth = strconv.Itoa(rec.Depth)
		}
		tw.Append([]string{
			strconv.Itoa(i + 1),
			rec.Direction.String(),
			fmt.Sprintf("0x%02x", rec.Control),
			strconv.Itoa(rec.Size),
			depth,
			rec.Name(),
			body(rec.Body, full),
			rec.Note,
		})
	}
	tw.Render()

	// таблица печатается и для частично разобранного захвата
	return decodeErr
}

func body(b []byte, full bool) string {
	if full || len(b) <= maxBodyHex {
		return hex.EncodeToString(b)
	}
	return hex.EncodeToString(b[:maxBodyHex]) + "…"
}
