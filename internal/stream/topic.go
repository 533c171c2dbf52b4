package stream

import (
	"sort"
	"strings"
)

// TopicName is a subscription channel on the upstream stream.
type TopicName string

const (
	TopicNewToken     TopicName = "NewToken"     // token creations, keyless
	TopicTokenTrade   TopicName = "TokenTrade"   // trades for the listed mints
	TopicAccountTrade TopicName = "AccountTrade" // trades by the listed wallets
	TopicMigration    TopicName = "Migration"    // bonding-curve migrations, keyless
)

// Topic is a subscription request. Keys are mints or wallets depending on Name.
type Topic struct {
	Name TopicName
	Keys []string
}

// command is the upstream wire format for (un)subscribe requests.
type command struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

func subscribeCommand(t Topic) command {
	return command{Method: "subscribe" + string(t.Name), Keys: t.Keys}
}

func unsubscribeCommand(t Topic) command {
	return command{Method: "unsubscribe" + string(t.Name), Keys: t.Keys}
}

// subEntry is one member of the subscription set.
type subEntry struct {
	name TopicName
	key  string // empty for keyless topics
}

func (t Topic) entries() []subEntry {
	if len(t.Keys) == 0 {
		return []subEntry{{name: t.Name}}
	}
	out := make([]subEntry, 0, len(t.Keys))
	for _, k := range t.Keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, subEntry{name: t.Name, key: k})
		}
	}
	return out
}

// groupTopics folds set entries back into one Topic per name, in stable order.
func groupTopics(entries []subEntry) []Topic {
	byName := make(map[TopicName][]string)
	for _, e := range entries {
		if _, ok := byName[e.name]; !ok {
			byName[e.name] = nil
		}
		if e.key != "" {
			byName[e.name] = append(byName[e.name], e.key)
		}
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, string(n))
	}
	sort.Strings(names)

	topics := make([]Topic, 0, len(names))
	for _, n := range names {
		keys := byName[TopicName(n)]
		sort.Strings(keys)
		topics = append(topics, Topic{Name: TopicName(n), Keys: keys})
	}
	return topics
}
