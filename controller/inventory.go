package controller

import "encoding/json"

// Operational inventory document, reduced to the fields flow counting needs.

type inventory struct {
	Nodes *nodes `json:"nodes"`
}

type nodes struct {
	Node []node `json:"node"`
}

type node struct {
	ID     string  `json:"id"`
	Tables []table `json:"flow-node-inventory:table"`
}

type table struct {
	Flows      []json.RawMessage `json:"flow"`
	Statistics *tableStatistics  `json:"opendaylight-flow-table-statistics:flow-table-statistics"`
}

type tableStatistics struct {
	ActiveFlows int `json:"active-flows"`
}
