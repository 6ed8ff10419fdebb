// Package certstore implements the SNI certificate store: exact/wildcard
// certificate lookup driven by a directory layout under a configured certs
// directory, plus a default-slot fallback into
// golang.org/x/crypto/acme/autocert for domains with no provisioned pair.
//
// A locally provisioned SNI/wildcard cert store takes priority over
// autocert; autocert's GetCertificate becomes this store's fallback for
// the default slot rather than handling every handshake itself.
package certstore

import (
	"crypto/tls"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/acme/autocert"
)

type wildcardEntry struct {
	suffix string
	cert   *tls.Certificate
}

// Snapshot is the immutable, published view of the cert directory: many
// concurrent readers, single writer via atomic pointer swap.
type Snapshot struct {
	defaultCert *tls.Certificate
	exact       map[string]*tls.Certificate
	wildcard    []wildcardEntry // sorted by descending suffix length
	fingerprint uint64
	autocert    *autocert.Manager // consulted only when defaultCert is nil
}

// Fingerprint returns the hash this snapshot was built from, so a reload
// supervisor can decide whether a rebuild is necessary without re-parsing
// certificates.
func (s *Snapshot) Fingerprint() uint64 { return s.fingerprint }

// Lookup resolves sni to a certificate: normalize, try exact, then each
// dot-delimited suffix from longest to shortest as a wildcard key. A miss
// returns (nil, false); the default slot and autocert are consulted only by
// GetCertificate.
func (s *Snapshot) Lookup(sni string) (*tls.Certificate, bool) {
	h := strings.ToLower(strings.TrimSuffix(sni, "."))

	if c, ok := s.exact[h]; ok {
		return c, true
	}

	parts := strings.Split(h, ".")
	for i := 1; i < len(parts); i++ {
		suffix := strings.Join(parts[i:], ".")
		for _, e := range s.wildcard {
			if e.suffix == suffix {
				return e.cert, true
			}
		}
	}

	return nil, false
}

// GetCertificate implements the *tls.Config.GetCertificate signature: SNI
// lookup, then the default cert, then autocert, returning (nil, err) only
// when nothing at all is available.
func (s *Snapshot) GetCertificate(hello *clientHelloInfo) (*tls.Certificate, error) {
	if hello.ServerName != "" {
		if c, ok := s.Lookup(hello.ServerName); ok {
			return c, nil
		}
	}
	if s.defaultCert != nil {
		return s.defaultCert, nil
	}
	if s.autocert != nil {
		return s.autocert.GetCertificate(hello)
	}
	return nil, fmt.Errorf("certstore: no certificate available for %q", hello.ServerName)
}

// clientHelloInfo is a local alias so this file only needs to name the one
// method GetCertificate actually depends on.
type clientHelloInfo = tls.ClientHelloInfo

// Build walks dir's exact/wildcard layout and compiles a Snapshot. am, if
// non-nil, backstops the default slot for domains with no provisioned
// cert pair.
func Build(dir string, am *autocert.Manager) (*Snapshot, error) {
	fp, err := Fingerprint(dir)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		exact:       make(map[string]*tls.Certificate),
		fingerprint: fp,
		autocert:    am,
	}

	if cert, ok, err := loadPair(filepath.Join(dir, "server", "default")); err != nil {
		return nil, err
	} else if ok {
		snap.defaultCert = cert
	}

	if err := walkCertDirs(filepath.Join(dir, "server", "sni"), func(name string, cert *tls.Certificate) {
		snap.exact[strings.TrimSuffix(strings.ToLower(name), ".")] = cert
	}); err != nil {
		return nil, err
	}

	var wildcards []wildcardEntry
	if err := walkCertDirs(filepath.Join(dir, "server", "wildcard"), func(name string, cert *tls.Certificate) {
		wildcards = append(wildcards, wildcardEntry{suffix: strings.TrimSuffix(strings.ToLower(name), "."), cert: cert})
	}); err != nil {
		return nil, err
	}
	sort.Slice(wildcards, func(i, j int) bool { return len(wildcards[i].suffix) > len(wildcards[j].suffix) })
	snap.wildcard = wildcards

	return snap, nil
}

// walkCertDirs visits each immediate subdirectory of root and, if it
// contains both cert.pem and key.pem, loads the pair and invokes fn with
// the subdirectory's name. Missing partner files cause that directory to
// be skipped, not treated as an error.
func walkCertDirs(root string, fn func(name string, cert *tls.Certificate)) error {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %q: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cert, ok, err := loadPair(filepath.Join(root, e.Name()))
		if err != nil {
			return err
		}
		if ok {
			fn(e.Name(), cert)
		}
	}
	return nil
}

func loadPair(dir string) (*tls.Certificate, bool, error) {
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		return nil, false, nil
	}
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		return nil, false, nil
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, false, fmt.Errorf("loading cert pair from %q: %w", dir, err)
	}
	return &cert, true, nil
}

// Fingerprint hashes (path, size, mtime-nanos) for every file recursively
// under dir/server, used to decide whether a rebuild is needed without
// touching certificate contents.
func Fingerprint(dir string) (uint64, error) {
	root := filepath.Join(dir, "server")
	h := fnv.New64a()

	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking %q: %w", root, err)
	}
	sort.Strings(paths)

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		fmt.Fprintf(h, "%s|%d|%d\n", p, info.Size(), info.ModTime().UnixNano())
	}
	return h.Sum64(), nil
}
