package dht

import (
	"net"
	"time"

	"github.com/boltdb/bolt"

	"github.com/riverweave/bitcore/bencode"
)

// routingBucket is the boltdb bucket persisted state lives in,
// following the teacher's session store convention of one
// top-level bucket per concern.
var routingBucket = []byte("dht-routing-table")

// routingTableKey is the single key holding the whole bencoded
// snapshot; the table is small enough (k=8 per bucket) that there is
// no benefit to splitting it across keys.
var routingTableKey = []byte("contacts")

// OpenStore opens (creating if absent) the boltdb file at path used to
// persist the routing table, mirroring the teacher's bolt.Open call
// in its session store.
func OpenStore(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0640, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(routingBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Save serializes the table's contacts as a bencoded list of
// dictionaries {id, ip, port, last_ok_secs}, per spec.md §6's
// persisted-state format, and writes them under a single key.
func Save(db *bolt.DB, rt *RoutingTable) error {
	blob := encodeContacts(rt.Snapshot())
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(routingBucket).Put(routingTableKey, blob)
	})
}

// Load reads a previously-saved snapshot and inserts every contact
// into rt. A missing key is not an error: reload on startup is
// optional per spec.md §6.
func Load(db *bolt.DB, rt *RoutingTable) error {
	var blob []byte
	err := db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(routingBucket).Get(routingTableKey); v != nil {
			blob = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if blob == nil {
		return nil
	}
	contacts, err := decodeContacts(blob)
	if err != nil {
		return err
	}
	for _, c := range contacts {
		rt.Insert(c)
	}
	return nil
}

func encodeContacts(contacts []Contact) []byte {
	entries := make([]bencode.Value, len(contacts))
	for i, c := range contacts {
		entries[i] = bencode.NewDict(
			bencode.DictEntry{Key: []byte("id"), Value: bencode.NewString(c.ID[:])},
			bencode.DictEntry{Key: []byte("ip"), Value: bencode.NewString([]byte(c.IP.String()))},
			bencode.DictEntry{Key: []byte("port"), Value: bencode.NewInt(int64(c.Port))},
			bencode.DictEntry{Key: []byte("last_ok_secs"), Value: bencode.NewInt(c.LastOkUnix)},
		)
	}
	return bencode.Encode(bencode.NewList(entries...))
}

func decodeContacts(blob []byte) ([]Contact, error) {
	v, err := bencode.Decode(blob, bencode.Lenient)
	if err != nil {
		return nil, err
	}
	if v.Kind != bencode.KindList {
		return nil, ErrNotAnEnvelope
	}
	contacts := make([]Contact, 0, len(v.List))
	for _, entry := range v.List {
		var c Contact
		if id, ok := entry.Lookup("id"); ok {
			copy(c.ID[:], id.Bytes())
		}
		if ip, ok := entry.Lookup("ip"); ok {
			c.IP = net.ParseIP(ip.String())
		}
		if port, ok := entry.Lookup("port"); ok {
			c.Port = uint16(port.Int)
		}
		if lastOk, ok := entry.Lookup("last_ok_secs"); ok {
			c.LastOkUnix = lastOk.Int
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}
