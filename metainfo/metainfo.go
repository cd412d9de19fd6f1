// Package metainfo parses .torrent files on top of the bencode codec
// and derives the info hash, exercising the raw-slice-preservation
// invariant of spec.md §8 end to end (SHA1(raw info dict) == info
// hash). Deeper validation of the parsed fields — piece-length sanity,
// file-layout consistency, per-piece hash verification against stored
// data — is metainfo sanity checking, explicitly out of scope
// (spec.md §1); that belongs to the storage backend and the
// transceiver, not here.
package metainfo

import (
	"crypto/sha1"
	"errors"
	"io"
	"io/ioutil"

	"github.com/riverweave/bitcore/bencode"
)

var (
	ErrNoInfoDict = errors.New("metainfo: no \"info\" dictionary")
	ErrNotADict   = errors.New("metainfo: top-level value is not a dictionary")
)

// File describes one file within a multi-file torrent's info dict.
type File struct {
	Length int64
	Path   []string
}

// Info is the subset of the info dictionary the core subsystems need:
// enough to size the bitfield, split pieces into blocks, and lay out
// storage (though storage itself is out of scope).
type Info struct {
	PieceLength int64
	Pieces      []byte // concatenated 20-byte SHA-1 hashes, one per piece
	Name        string
	Length      int64  // single-file mode; 0 in multi-file mode
	Files       []File // multi-file mode; nil in single-file mode

	// Raw is the exact source bytes of the info dictionary, as decoded
	// (spec.md §4.1's raw-slice-preservation requirement). InfoHash is
	// SHA1(Raw).
	Raw      []byte
	InfoHash [20]byte
}

// MetaInfo is the parsed top-level .torrent dictionary.
type MetaInfo struct {
	Info         Info
	Announce     string
	AnnounceList [][]string
	Comment      string
	CreatedBy    string
	CreationDate int64
}

// New decodes a .torrent file's bytes, read fully from r.
func New(r io.Reader) (*MetaInfo, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes raw .torrent bytes.
func Parse(raw []byte) (*MetaInfo, error) {
	top, err := bencode.Decode(raw, bencode.Lenient)
	if err != nil {
		return nil, err
	}
	if top.Kind != bencode.KindDict {
		return nil, ErrNotADict
	}

	infoVal, ok := top.Lookup("info")
	if !ok {
		return nil, ErrNoInfoDict
	}
	info, err := parseInfo(infoVal)
	if err != nil {
		return nil, err
	}

	mi := &MetaInfo{Info: info}
	if v, ok := top.Lookup("announce"); ok {
		mi.Announce = v.String()
	}
	if v, ok := top.Lookup("announce-list"); ok && v.Kind == bencode.KindList {
		for _, tier := range v.List {
			var urls []string
			for _, u := range tier.List {
				urls = append(urls, u.String())
			}
			mi.AnnounceList = append(mi.AnnounceList, urls)
		}
	}
	if v, ok := top.Lookup("comment"); ok {
		mi.Comment = v.String()
	}
	if v, ok := top.Lookup("created by"); ok {
		mi.CreatedBy = v.String()
	}
	if v, ok := top.Lookup("creation date"); ok && v.Kind == bencode.KindInt {
		mi.CreationDate = v.Int
	}
	return mi, nil
}

func parseInfo(v bencode.Value) (Info, error) {
	if v.Kind != bencode.KindDict {
		return Info{}, ErrNotADict
	}
	info := Info{Raw: v.Raw, InfoHash: sha1.Sum(v.Raw)}

	if pl, ok := v.Lookup("piece length"); ok {
		info.PieceLength = pl.Int
	}
	if p, ok := v.Lookup("pieces"); ok {
		info.Pieces = p.Bytes()
	}
	if n, ok := v.Lookup("name"); ok {
		info.Name = n.String()
	}
	if l, ok := v.Lookup("length"); ok {
		info.Length = l.Int
	}
	if files, ok := v.Lookup("files"); ok && files.Kind == bencode.KindList {
		for _, fv := range files.List {
			var f File
			if l, ok := fv.Lookup("length"); ok {
				f.Length = l.Int
			}
			if p, ok := fv.Lookup("path"); ok && p.Kind == bencode.KindList {
				for _, seg := range p.List {
					f.Path = append(f.Path, seg.String())
				}
			}
			info.Files = append(info.Files, f)
		}
	}
	return info, nil
}

// NumPieces returns the piece count implied by Pieces' length.
func (i Info) NumPieces() uint32 {
	if len(i.Pieces) == 0 || i.PieceLength == 0 {
		return 0
	}
	return uint32(len(i.Pieces) / 20)
}
