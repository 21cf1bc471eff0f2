package domain

// PoolType classifies where a ledger address comes from
type PoolType string

const (
	PoolStatic   PoolType = "static"   // Inside one of the subnet's static pools
	PoolDHCP     PoolType = "dhcp"     // Inside the subnet but outside the static pools
	PoolUnrouted PoolType = "unrouted" // Not contained in any known subnet
)

// Valid reports whether p is one of the known pool types
func (p PoolType) Valid() bool {
	switch p {
	case PoolStatic, PoolDHCP, PoolUnrouted:
		return true
	}
	return false
}

// Status is the allocation state of a ledger entry
type Status string

const (
	StatusAvailable Status = "available"
	StatusAssigned  Status = "assigned"
	StatusReserved  Status = "reserved"
)

// ParseStatus accepts the stored status names plus "allocated", which older
// clients use for assigned addresses.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case string(StatusAvailable):
		return StatusAvailable, true
	case string(StatusAssigned), "allocated":
		return StatusAssigned, true
	case string(StatusReserved):
		return StatusReserved, true
	}
	return "", false
}

// Subnet represents a routed network with its static and DHCP pools
type Subnet struct {
	ID          int64    `json:"id"`                    // Unique identifier
	Name        string   `json:"name"`                  // Unique subnet name
	Network     string   `json:"network"`               // CIDR notation (e.g., "10.0.1.0/24")
	VLANID      *int64   `json:"vlan_id,omitempty"`     // Optional VLAN tag
	Gateway     string   `json:"gateway,omitempty"`     // Optional gateway address
	Description string   `json:"description,omitempty"` // Optional description
	StaticPools []string `json:"static_pools"`          // Ordered "start-end" or single-address ranges
	DHCPRanges  []string `json:"dhcp_ranges"`           // Derived: usable - static - gateway
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// Server represents a physical or virtual device tracked by the inventory
type Server struct {
	ID          int64  `json:"id"`
	UUID        string `json:"uuid,omitempty"` // Device-reported identity, unique when set
	Hostname    string `json:"hostname"`
	IPAddress   string `json:"ip_address,omitempty"`
	NICMAC      string `json:"nic_mac,omitempty"`
	BMCIP       string `json:"bmc_ip,omitempty"`
	BMCMAC      string `json:"bmc_mac,omitempty"`
	Manufacture string `json:"manufacture,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	CPU         string `json:"cpu,omitempty"`
	CoreCount   int64  `json:"core_count,omitempty"`
	Sockets     int64  `json:"sockets,omitempty"`
	TotalMem    int64  `json:"total_mem,omitempty"` // GB
	DiskCount   int64  `json:"disk_count,omitempty"`
	OS          string `json:"os,omitempty"`
	OSVersion   string `json:"os_version,omitempty"`
	Kernel      string `json:"kernel,omitempty"`
	Building    string `json:"building,omitempty"`
	Room        string `json:"room,omitempty"`
	Rack        string `json:"rack,omitempty"`
	Status      string `json:"status,omitempty"`      // active, inactive, maintenance, decommissioned
	DataSource  string `json:"data_source,omitempty"` // manual, api, discovery, import
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// LedgerEntry is one row of the allocation ledger
type LedgerEntry struct {
	ID          int64    `json:"id"`
	Address     string   `json:"address"`
	SubnetID    *int64   `json:"subnet_id,omitempty"` // nil means no subnet contains the address
	Pool        PoolType `json:"pool"`
	Status      Status   `json:"status"`
	ServerID    *int64   `json:"server_id,omitempty"`
	IsBMC       bool     `json:"is_bmc"`
	Hostname    string   `json:"hostname,omitempty"`
	MACAddress  string   `json:"mac_address,omitempty"`
	Description string   `json:"description,omitempty"` // Only meaningful while reserved
	ReservedBy  string   `json:"reserved_by,omitempty"`
	ReservedAt  string   `json:"reserved_at,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// AuditEvent records who changed what
type AuditEvent struct {
	ID        int64  `json:"id"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Target    string `json:"target"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}
