package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// mockNode is one graph node in the in-memory backend.
type mockNode struct {
	Label string
	Key   string
	Props map[string]any
}

// mockEdge is one directed relationship. Edges are never deduplicated,
// matching the real backend's CREATE semantics.
type mockEdge struct {
	FromKey string
	Type    string
	ToKey   string
}

// MockBackend interprets the adapter's statements against in-memory state.
// Useful in tests and for running without a Neo4j instance.
type MockBackend struct {
	mu    sync.Mutex
	nodes map[string]*mockNode
	edges []mockEdge

	WriteCalls int
	ReadCalls  int
	Err        error
}

var _ Backend = (*MockBackend)(nil)

func NewMockBackend() *MockBackend {
	return &MockBackend{nodes: make(map[string]*mockNode)}
}

// NodeCount reports how many nodes carry the given label.
func (m *MockBackend) NodeCount(label string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, node := range m.nodes {
		if node.Label == label {
			count++
		}
	}
	return count
}

// EdgeCount reports how many edges of the given type exist.
func (m *MockBackend) EdgeCount(edgeType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, edge := range m.edges {
		if edge.Type == edgeType {
			count++
		}
	}
	return count
}

func (m *MockBackend) Write(_ context.Context, query string, params map[string]any) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls++
	if m.Err != nil {
		return nil, m.Err
	}

	switch query {
	case stmtMergeMemory:
		key := memoryKey(asString(params["id"]))
		node, exists := m.nodes[key]
		if !exists {
			node = &mockNode{Label: LabelMemory, Key: key, Props: make(map[string]any)}
			m.nodes[key] = node
		}
		for _, prop := range []string{"id", "user_id", "content", "type", "timestamp", "privacy_level", "emotional_tone", "version_log"} {
			node.Props[prop] = params[prop]
		}
		return nil, nil

	case stmtLinkDocument:
		return nil, m.link(params, LabelDocument, documentKey(asString(params["document_id"])),
			map[string]any{"id": params["document_id"]}, EdgeBelongsTo)

	case stmtLinkCharacter:
		return nil, m.link(params, LabelCharacter, namedKey(LabelCharacter, params),
			map[string]any{"user_id": params["user_id"], "name": params["name"]}, EdgeMentions)

	case stmtLinkTheme:
		return nil, m.link(params, LabelTheme, namedKey(LabelTheme, params),
			map[string]any{"user_id": params["user_id"], "name": params["name"]}, EdgeExplores)

	case stmtLinkSetting:
		return nil, m.link(params, LabelSetting, namedKey(LabelSetting, params),
			map[string]any{"user_id": params["user_id"], "name": params["name"]}, EdgeTakesPlaceIn)

	case stmtDeleteOutgoingEdges:
		from := memoryKey(asString(params["id"]))
		kept := m.edges[:0]
		for _, edge := range m.edges {
			if edge.FromKey != from {
				kept = append(kept, edge)
			}
		}
		m.edges = kept
		return nil, nil

	case stmtDeleteMemory:
		key := memoryKey(asString(params["id"]))
		if _, exists := m.nodes[key]; !exists {
			return []map[string]any{{"deleted": int64(0)}}, nil
		}
		delete(m.nodes, key)
		kept := m.edges[:0]
		for _, edge := range m.edges {
			if edge.FromKey != key && edge.ToKey != key {
				kept = append(kept, edge)
			}
		}
		m.edges = kept
		return []map[string]any{{"deleted": int64(1)}}, nil
	}
	return nil, nil
}

func (m *MockBackend) Read(_ context.Context, query string, params map[string]any) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls++
	if m.Err != nil {
		return nil, m.Err
	}

	switch query {
	case stmtCharacterRelationships:
		return m.characterRelationships(params), nil
	case stmtThemeProgression:
		return m.themeProgression(params), nil
	case stmtGetMemory:
		return m.getMemory(params), nil
	}
	return m.search(params), nil
}

func (m *MockBackend) HealthCheck(_ context.Context) error {
	return m.Err
}

func (m *MockBackend) link(params map[string]any, label, key string, props map[string]any, edgeType string) error {
	from := memoryKey(asString(params["id"]))
	if _, exists := m.nodes[from]; !exists {
		return nil
	}
	if _, exists := m.nodes[key]; !exists {
		m.nodes[key] = &mockNode{Label: label, Key: key, Props: props}
	}
	m.edges = append(m.edges, mockEdge{FromKey: from, Type: edgeType, ToKey: key})
	return nil
}

func (m *MockBackend) search(params map[string]any) []map[string]any {
	userID := asString(params["user_id"])
	text := strings.ToLower(asString(params["text"]))
	limit, hasLimit := asInt64(params["limit"])

	var matched []*mockNode
	for _, node := range m.nodes {
		if node.Label != LabelMemory || asString(node.Props["user_id"]) != userID {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(asString(node.Props["content"])), text) {
			continue
		}
		ts, _ := asInt64(node.Props["timestamp"])
		if start, ok := asInt64(params["start_ts"]); ok && ts < start {
			continue
		}
		if end, ok := asInt64(params["end_ts"]); ok && ts > end {
			continue
		}
		if documentID := asString(params["document_id"]); documentID != "" &&
			!m.hasEdge(node.Key, EdgeBelongsTo, documentKey(documentID)) {
			continue
		}
		matched = append(matched, node)
	}

	sort.Slice(matched, func(i, j int) bool {
		left, _ := asInt64(matched[i].Props["timestamp"])
		right, _ := asInt64(matched[j].Props["timestamp"])
		return left > right
	})
	if hasLimit && int64(len(matched)) > limit {
		matched = matched[:limit]
	}

	rows := make([]map[string]any, 0, len(matched))
	for _, node := range matched {
		row := map[string]any{
			"id":             node.Props["id"],
			"user_id":        node.Props["user_id"],
			"content":        node.Props["content"],
			"type":           node.Props["type"],
			"timestamp":      node.Props["timestamp"],
			"privacy_level":  node.Props["privacy_level"],
			"emotional_tone": node.Props["emotional_tone"],
		}
		var documents, characters, related []any
		for _, edge := range m.edges {
			if edge.FromKey != node.Key {
				continue
			}
			target := m.nodes[edge.ToKey]
			if target == nil {
				continue
			}
			targetID := asString(target.Props["id"])
			if targetID == "" {
				targetID = asString(target.Props["name"])
			}
			switch edge.Type {
			case EdgeBelongsTo:
				documents = append(documents, targetID)
			case EdgeMentions:
				characters = append(characters, targetID)
			}
			related = append(related, map[string]any{"rel_type": edge.Type, "target": targetID})
		}
		row["document_ids"] = documents
		row["characters"] = characters
		row["related"] = related
		rows = append(rows, row)
	}
	return rows
}

func (m *MockBackend) getMemory(params map[string]any) []map[string]any {
	node := m.nodes[memoryKey(asString(params["id"]))]
	if node == nil {
		return nil
	}
	row := map[string]any{
		"id":             node.Props["id"],
		"user_id":        node.Props["user_id"],
		"content":        node.Props["content"],
		"type":           node.Props["type"],
		"timestamp":      node.Props["timestamp"],
		"privacy_level":  node.Props["privacy_level"],
		"emotional_tone": node.Props["emotional_tone"],
		"version_log":    node.Props["version_log"],
	}
	var documents, characters []any
	for _, edge := range m.edges {
		if edge.FromKey != node.Key {
			continue
		}
		target := m.nodes[edge.ToKey]
		if target == nil {
			continue
		}
		switch edge.Type {
		case EdgeBelongsTo:
			documents = append(documents, asString(target.Props["id"]))
		case EdgeMentions:
			characters = append(characters, asString(target.Props["name"]))
		}
	}
	row["document_ids"] = documents
	row["characters"] = characters
	return []map[string]any{row}
}

func (m *MockBackend) characterRelationships(params map[string]any) []map[string]any {
	userID := asString(params["user_id"])
	name := asString(params["name"])

	type summary struct {
		mentions     int64
		memoryIDs    []any
		coCharacters map[string]bool
	}
	byCharacter := make(map[string]*summary)

	for _, edge := range m.edges {
		if edge.Type != EdgeMentions {
			continue
		}
		memory, character := m.nodes[edge.FromKey], m.nodes[edge.ToKey]
		if memory == nil || character == nil || asString(memory.Props["user_id"]) != userID {
			continue
		}
		characterName := asString(character.Props["name"])
		entry, exists := byCharacter[characterName]
		if !exists {
			entry = &summary{coCharacters: make(map[string]bool)}
			byCharacter[characterName] = entry
		}
		entry.mentions++
		entry.memoryIDs = append(entry.memoryIDs, memory.Props["id"])
		for _, sibling := range m.edges {
			if sibling.Type == EdgeMentions && sibling.FromKey == edge.FromKey && sibling.ToKey != edge.ToKey {
				if other := m.nodes[sibling.ToKey]; other != nil {
					entry.coCharacters[asString(other.Props["name"])] = true
				}
			}
		}
	}

	names := make([]string, 0, len(byCharacter))
	for characterName := range byCharacter {
		if name == "" || characterName == name {
			names = append(names, characterName)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if byCharacter[names[i]].mentions != byCharacter[names[j]].mentions {
			return byCharacter[names[i]].mentions > byCharacter[names[j]].mentions
		}
		return names[i] < names[j]
	})

	rows := make([]map[string]any, 0, len(names))
	for _, characterName := range names {
		entry := byCharacter[characterName]
		co := make([]any, 0, len(entry.coCharacters))
		for other := range entry.coCharacters {
			co = append(co, other)
		}
		sort.Slice(co, func(i, j int) bool { return co[i].(string) < co[j].(string) })
		rows = append(rows, map[string]any{
			"name":          characterName,
			"mentions":      entry.mentions,
			"memory_ids":    entry.memoryIDs,
			"co_characters": co,
		})
	}
	return rows
}

func (m *MockBackend) themeProgression(params map[string]any) []map[string]any {
	themeNode := m.nodes[namedKey(LabelTheme, params)]
	if themeNode == nil {
		return nil
	}

	var memories []*mockNode
	for _, edge := range m.edges {
		if edge.Type == EdgeExplores && edge.ToKey == themeNode.Key {
			if memory := m.nodes[edge.FromKey]; memory != nil {
				memories = append(memories, memory)
			}
		}
	}
	sort.Slice(memories, func(i, j int) bool {
		left, _ := asInt64(memories[i].Props["timestamp"])
		right, _ := asInt64(memories[j].Props["timestamp"])
		return left < right
	})

	rows := make([]map[string]any, 0, len(memories))
	for _, memory := range memories {
		rows = append(rows, map[string]any{
			"id":             memory.Props["id"],
			"content":        memory.Props["content"],
			"timestamp":      memory.Props["timestamp"],
			"emotional_tone": memory.Props["emotional_tone"],
		})
	}
	return rows
}

func (m *MockBackend) hasEdge(fromKey, edgeType, toKey string) bool {
	for _, edge := range m.edges {
		if edge.FromKey == fromKey && edge.Type == edgeType && edge.ToKey == toKey {
			return true
		}
	}
	return false
}

func memoryKey(id string) string {
	return LabelMemory + ":" + id
}

func documentKey(id string) string {
	return LabelDocument + ":" + id
}

func namedKey(label string, params map[string]any) string {
	return label + ":" + asString(params["user_id"]) + ":" + asString(params["name"])
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
