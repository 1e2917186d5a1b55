package leveldb

import (
	"clocksync/datamodel/peer"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixPeer = "PER" // Peer metadata indexed by UDP address. Followed by the textual address
)

var _ peer.PeerIndex = (*PeerIndex)(nil)

// PeerIndex remembers every peer the coordinator received a state update from.
type PeerIndex struct {
	LevelDB
}

func NewPeerIndex(path string) (*PeerIndex, error) {
	ldb, err := openLevelDB(path)
	if err != nil {
		return nil, err
	}

	return &PeerIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

// load reads one entry. The caller holds l.mu.
func (l *PeerIndex) load(address string) (*peer.Metadata, error) {
	raw, err := l.db.Get(keyFromAddress(address), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", peer.ErrNotFound, address)
	}
	if err != nil {
		return nil, err
	}
	return decodeMetadata(address, raw)
}

func decodeMetadata(address string, raw []byte) (*peer.Metadata, error) {
	md := &peer.Metadata{}
	if err := cbor.Unmarshal(raw, md); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, address, err)
	}
	if md.Address != address {
		return nil, fmt.Errorf("%w: key %s holds %s", ErrCorrupted, address, md.Address)
	}
	return md, nil
}

// store writes one entry. The caller holds l.mu.
func (l *PeerIndex) store(md *peer.Metadata) error {
	raw, err := cbor.Marshal(md)
	if err != nil {
		return err
	}
	return l.db.Put(keyFromAddress(md.Address), raw, nil)
}

func (l *PeerIndex) Get(address string) (*peer.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(address)
}

func (l *PeerIndex) Put(metadata *peer.Metadata) (*peer.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store(metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// Observe updates the history of address in a single read-modify-write. A
// missing entry starts a new history, as does a corrupted one. Any other read
// error is returned and nothing is written.
func (l *PeerIndex) Observe(address string, rec peer.Record, at time.Time) (*peer.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	md, err := l.load(address)
	switch {
	case errors.Is(err, peer.ErrNotFound):
		md = &peer.Metadata{Address: address, FirstSeen: at}
	case errors.Is(err, ErrCorrupted):
		log.Warnf("Replacing unreadable peer index entry: %v", err)
		md = &peer.Metadata{Address: address, FirstSeen: at}
	case err != nil:
		return nil, err
	}

	md.Record = rec
	md.LastSeen = at
	md.Updates++

	if err := l.store(md); err != nil {
		return nil, err
	}
	return md, nil
}

// Enumerate returns every readable peer in address order. Unreadable entries
// are logged and skipped.
func (l *PeerIndex) Enumerate() ([]*peer.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*peer.Metadata

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixPeer)), nil)
	defer iter.Release()

	for iter.Next() {
		address := string(iter.Key()[len(keyPrefixPeer):])
		md, err := decodeMetadata(address, iter.Value())
		if err != nil {
			log.Warnf("Skipping peer index entry: %v", err)
			continue
		}
		results = append(results, md)
	}

	return results, iter.Error()
}
