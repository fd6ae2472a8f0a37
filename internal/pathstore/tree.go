package pathstore

import (
	"context"
	"fmt"

	"github.com/dgallion1/topictree/internal/topictree"
	"github.com/google/uuid"
)

var collections = map[topictree.Level]string{
	topictree.LevelCourse:            "courses",
	topictree.LevelCompetency:        "competencies",
	topictree.LevelSubCompetency:     "sub_competencies",
	topictree.LevelLearningObjective: "learning_objectives",
	topictree.LevelLearningUnit:      "learning_units",
	topictree.LevelTriple:            "triples",
}

// NodeRecord is the value stored for one tree node.
type NodeRecord struct {
	ID          string             `json:"id"`
	Level       string             `json:"level"`
	Title       string             `json:"title"`
	DocumentIDs []int              `json:"document_ids"`
	Text        string             `json:"text"`
	Triples     []topictree.Triple `json:"triples,omitempty"`
	Parent      string             `json:"parent,omitempty"`
	Position    int                `json:"position"`
}

// StoreResult lists what StoreTree wrote.
type StoreResult struct {
	RootKeys []string `json:"root_keys"`
	Keys     []string `json:"keys"`
	Nodes    int      `json:"nodes"`
	Links    int      `json:"links"`
}

// StoreTree writes every node of tree under prefix, grouped into one
// collection per level, and links each parent to its children. Nodes are
// written top-down so a parent always exists before its links. The first
// failure aborts the store.
func (c *Client) StoreTree(ctx context.Context, prefix, source string, tree *topictree.Tree) (*StoreResult, error) {
	res := &StoreResult{}
	if tree == nil {
		return res, nil
	}
	for i, root := range tree.Roots {
		key, err := c.storeNode(ctx, prefix, source, "", i, root, res)
		if err != nil {
			return res, err
		}
		res.RootKeys = append(res.RootKeys, key)
	}
	return res, nil
}

func (c *Client) storeNode(ctx context.Context, prefix, source, parentKey string, pos int, n *topictree.Node, res *StoreResult) (string, error) {
	coll, ok := collections[n.Level]
	if !ok {
		return "", fmt.Errorf("store node: unknown level %d", n.Level)
	}
	id := uuid.NewString()
	key := prefix + "/" + coll + "/" + id

	rec := NodeRecord{
		ID:          id,
		Level:       n.Level.String(),
		Title:       n.Title,
		DocumentIDs: n.DocumentIDs,
		Text:        n.Text,
		Triples:     n.Triples,
		Parent:      parentKey,
		Position:    pos,
	}
	if err := c.PutNode(ctx, key, NodeRequest{Value: rec, MemoryType: "semantic", Source: source}); err != nil {
		return "", err
	}
	res.Nodes++
	res.Keys = append(res.Keys, key)

	if parentKey != "" {
		if err := c.PutLink(ctx, LinkRequest{From: parentKey, To: key, Weight: 1.0, Summary: n.Title}); err != nil {
			return "", err
		}
		res.Links++
	}

	for i, child := range n.Children {
		if _, err := c.storeNode(ctx, prefix, source, key, i, child, res); err != nil {
			return "", err
		}
	}
	return key, nil
}
