package formats

import "github.com/JonMunkholm/canview/internal/core"

// placeholderNode is the sender/receiver name used when none is assigned.
const placeholderNode = "Vector__XXX"

// deriveNodes builds the node list from declared node names plus every
// sender and receiver seen in the messages. Transmit sets come from message
// senders, receive sets from signal receivers; both keep message order.
func deriveNodes(declared []string, messages []core.Message) []core.Node {
	index := make(map[string]int)
	nodes := make([]core.Node, 0, len(declared))
	node := func(name string) *core.Node {
		if name == "" || name == placeholderNode {
			return nil
		}
		i, ok := index[name]
		if !ok {
			i = len(nodes)
			index[name] = i
			nodes = append(nodes, core.Node{Name: name, Transmits: []string{}, Receives: []string{}})
		}
		return &nodes[i]
	}

	for _, name := range declared {
		node(name)
	}
	for _, msg := range messages {
		if n := node(msg.Sender); n != nil {
			n.Transmits = appendUnique(n.Transmits, msg.Name)
		}
		for _, sig := range msg.Signals {
			for _, r := range sig.Receivers {
				if n := node(r); n != nil {
					n.Receives = appendUnique(n.Receives, msg.Name)
				}
			}
		}
	}
	return nodes
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
