package vault

import (
	"context"
	"fmt"
	"strings"
)

// Options selects and configures a backend.
type Options struct {
	Kind       Kind
	DBPath     string // libsql only; plain paths are turned into file: URIs
	Passphrase string // libsql only; enables EncryptedBackend
}

// Open builds the backend described by opts. The returned close func is
// never nil.
func Open(ctx context.Context, opts Options) (Backend, func() error, error) {
	noop := func() error { return nil }
	switch opts.Kind {
	case KindKeyring, "":
		return NewKeyringBackend(), noop, nil
	case KindMemory:
		return NewMemoryBackend(), noop, nil
	case KindLibSQL:
		if opts.DBPath == "" {
			return nil, noop, fmt.Errorf("vault: libsql backend requires a database path")
		}
		uri := opts.DBPath
		if !strings.HasPrefix(uri, "file:") && !strings.Contains(uri, "://") {
			uri = "file:" + uri
		}
		db, err := OpenLibSQL(ctx, uri)
		if err != nil {
			return nil, noop, err
		}
		if opts.Passphrase == "" {
			return db, db.Close, nil
		}
		salt, err := db.Salt(ctx)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		enc, err := NewEncryptedBackend(db, EncryptionConfig{Passphrase: opts.Passphrase, Salt: salt})
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return enc, db.Close, nil
	default:
		return nil, noop, fmt.Errorf("vault: unknown backend %q (want keyring, libsql or memory)", opts.Kind)
	}
}
