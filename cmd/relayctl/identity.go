package main

import (
	"bufio"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/lymdgit/relay/model"
)

// Identity is the persisted contents of me.info (spec.md §6): the
// client's chosen name, the id the relay assigned at Register, and the
// RSA private key backing its public_key. Reflects the original's
// info_file_exists gate (original_source/models.py): if the file is
// present, relayctl reuses it instead of registering again.
type Identity struct {
	Name       string
	ID         model.ClientID
	PrivateKey *rsa.PrivateKey
}

// loadIdentity reads me.info if present. ok is false (with a nil error)
// when the file simply doesn't exist yet — the "first run" branch.
func loadIdentity(path string) (ident Identity, ok bool, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("identity: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := make([]string, 0, 3)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if len(lines) < 3 {
		return Identity{}, false, fmt.Errorf("identity: %s needs 3 lines (name, id, key), got %d", path, len(lines))
	}

	idHex := strings.TrimPrefix(lines[1], "0x")
	idBytes, err := hex.DecodeString(idHex)
	if err != nil || len(idBytes) != 16 {
		return Identity{}, false, fmt.Errorf("identity: %s line 2 is not a 16-byte hex client id", path)
	}
	var id model.ClientID
	copy(id[:], idBytes)

	keyDER, err := base64.StdEncoding.DecodeString(lines[2])
	if err != nil {
		return Identity{}, false, fmt.Errorf("identity: %s line 3 is not valid base64: %w", path, err)
	}
	priv, err := x509.ParsePKCS1PrivateKey(keyDER)
	if err != nil {
		return Identity{}, false, fmt.Errorf("identity: %s line 3 is not a PKCS#1 private key: %w", path, err)
	}

	return Identity{Name: lines[0], ID: id, PrivateKey: priv}, true, nil
}

// saveIdentity writes me.info in the three-line format spec.md §6
// describes: name, 0x-prefixed hex id, base64 private key DER.
func saveIdentity(path string, ident Identity) error {
	der := x509.MarshalPKCS1PrivateKey(ident.PrivateKey)
	content := fmt.Sprintf("%s\n0x%s\n%s\n",
		ident.Name,
		hex.EncodeToString(ident.ID[:]),
		base64.StdEncoding.EncodeToString(der),
	)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}
