package model

// InventoryStats counts the active inventory of one manager.
type InventoryStats struct {
	Hosts     int64 `json:"hosts"`
	VMs       int64 `json:"vms"`
	Storages  int64 `json:"storages"`
	Snapshots int64 `json:"snapshots"`
}
