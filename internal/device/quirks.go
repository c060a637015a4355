package device

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fwupdcore/pkg/transport"
)

// Quirk is the static configuration a device's instance ID resolves to:
// which transport kind to bind, the write block size, the version format
// its firmware reports in, and the capability bits its lifecycle
// supports. This plays the role of fwupd's quirk .conf database, loaded
// from a directory of key=value files the same way internal/config reads
// its .env (§4.7: quirks/instance-ID lookup).
type Quirk struct {
	InstanceID   string
	Transport    transport.Kind
	BlockSize    uint32
	VersionFmt   string
	Capabilities Capabilities
}

// QuirkDB is an in-memory index of quirk entries keyed by instance ID,
// loaded once from a directory of ".quirk" files at startup.
type QuirkDB struct {
	entries map[string]*Quirk
}

// LoadQuirkDB reads every *.quirk file under dir. Each file is a flat
// key=value list, one entry per file, matching internal/config's env-file
// parser in spirit.
func LoadQuirkDB(dir string) (*QuirkDB, error) {
	db := &QuirkDB{entries: map[string]*Quirk{}}

	matches, err := filepath.Glob(filepath.Join(dir, "*.quirk"))
	if err != nil {
		return nil, err
	}
	for _, path := range matches {
		q, err := parseQuirkFile(path)
		if err != nil {
			continue
		}
		db.entries[q.InstanceID] = q
	}
	return db, nil
}

func parseQuirkFile(path string) (*Quirk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	q := &Quirk{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		switch key {
		case "InstanceId":
			q.InstanceID = value
		case "Transport":
			q.Transport = transport.Kind(value)
		case "BlockSize":
			if n, err := strconv.Atoi(value); err == nil {
				q.BlockSize = uint32(n)
			}
		case "VersionFormat":
			q.VersionFmt = value
		case "Capabilities":
			q.Capabilities = parseCapabilities(value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return q, nil
}

func parseCapabilities(v string) Capabilities {
	var caps Capabilities
	for _, name := range strings.Split(v, ",") {
		switch strings.TrimSpace(name) {
		case "detach":
			caps |= CapDetach
		case "attach":
			caps |= CapAttach
		case "reload":
			caps |= CapReload
		case "verify-readback":
			caps |= CapVerifyReadback
		case "interactive":
			caps |= CapInteractive
		case "wait-for-replug":
			caps |= CapWaitForReplug
		case "only-version-upgrade":
			caps |= CapOnlyVersionUpgrade
		}
	}
	return caps
}

// Lookup returns the quirk matching instanceID, trying each entry in
// fwupd's usual most-specific-first order is out of scope here: this
// implementation is a flat exact-match index, adequate for the bounded
// quirk set this daemon ships with.
func (db *QuirkDB) Lookup(instanceID string) *Quirk {
	return db.entries[instanceID]
}
