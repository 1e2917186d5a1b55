// Package leveldb implements the peer.PeerIndex interface
package leveldb

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"

	log "github.com/sirupsen/logrus"
)

// ErrCorrupted is returned for a stored value that no longer decodes.
var ErrCorrupted = errors.New("corrupted peer record")

// LevelDB owns one database directory. Values are small, so compression stays off.
type LevelDB struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
}

func keyFromAddress(address string) []byte {
	return append([]byte(keyPrefixPeer), address...)
}

func openLevelDB(path string) (*leveldb.DB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{Compression: opt.NoCompression})
	if lerrors.IsCorrupted(err) {
		// Recovery may drop entries
		log.Warnf("Peer index at %s is corrupted, recovering", path)
		db, err = leveldb.RecoverFile(path, &opt.Options{Compression: opt.NoCompression})
	}
	if err != nil {
		return nil, err
	}

	log.Infof("Opened peer index at %s", path)
	return db, nil
}

func (l *LevelDB) Path() string {
	return l.path
}

func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
