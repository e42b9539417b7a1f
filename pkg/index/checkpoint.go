package index

import (
	"bytes"
	"encoding/gob"
	"io/ioutil"

	"github.com/pierrec/lz4"

	"otree/pkg/cube"
	"otree/pkg/storage"
)

// checkpointNode is the gob-friendly, exported mirror of Node + its cube
// key, used only for checkpoint serialization.
type checkpointNode struct {
	Key           []byte
	MaxWeight     int32
	HasMaxWeight  bool
	TotalElements uint64
	State         storage.CubeState
	Children      []int
}

// WriteCheckpoint serializes s as a lz4-compressed snapshot, purely as a
// read-side optimization so a reader doesn't have to refold every Block
// tag on every query start; the Index State remains fully reconstructible
// from tags alone with or without a checkpoint.
func (s *State) WriteCheckpoint(path string) error {
	var nodes []checkpointNode
	s.ForEachAscending(func(c cube.Id, n *Node) bool {
		cn := checkpointNode{
			Key:           c.Marshal(),
			MaxWeight:     n.MaxWeight,
			HasMaxWeight:  n.HasMaxWeight,
			TotalElements: n.TotalElements,
			State:         n.State,
		}
		for k := 0; k < (1 << uint(s.Dims)); k++ {
			if n.Children.IsSet(k) {
				cn.Children = append(cn.Children, k)
			}
		}
		nodes = append(nodes, cn)
		return true
	})

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(nodes); err != nil {
		return err
	}

	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return ioutil.WriteFile(path, compressed.Bytes(), 0o644)
}

// LoadCheckpoint reconstructs a State from a checkpoint written by
// WriteCheckpoint. revisionID/dims must match what the checkpoint was
// taken under; the caller is expected to have read that from the
// accompanying Revision metadata.
func LoadCheckpoint(path string, revisionID uint64, dims int) (*State, error) {
	compressed, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	zr := lz4.NewReader(bytes.NewReader(compressed))
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(zr); err != nil {
		return nil, err
	}

	var nodes []checkpointNode
	if err := gob.NewDecoder(&raw).Decode(&nodes); err != nil {
		return nil, err
	}

	s := Empty(revisionID, dims)
	for _, cn := range nodes {
		id, err := cube.Unmarshal(cn.Key, dims)
		if err != nil {
			return nil, err
		}
		n := s.ensureNode(id)
		n.MaxWeight = cn.MaxWeight
		n.HasMaxWeight = cn.HasMaxWeight
		n.TotalElements = cn.TotalElements
		n.State = cn.State
		for _, k := range cn.Children {
			n.Children.Set(k)
		}
	}
	return s, nil
}
