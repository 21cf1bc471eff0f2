// Package report renders the ledger and subnet summaries as an XLSX workbook.
package report

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/ipam"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	SubnetSheet = "Subnets"
	LedgerSheet = "Ledger"
)

// Workbook builds a workbook with a subnet summary sheet and a ledger sheet.
// The caller closes the returned file.
func Workbook(subnets []ipam.SubnetView, entries []domain.LedgerEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SubnetSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeSheetRows(f, SubnetSheet, subnetRows(subnets)); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(LedgerSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	names := make(map[int64]string, len(subnets))
	for _, s := range subnets {
		names[s.ID] = s.Name
	}
	if err := writeSheetRows(f, LedgerSheet, ledgerRows(entries, names)); err != nil {
		return nil, err
	}
	return f, nil
}

// Write renders the workbook to w
func Write(w io.Writer, subnets []ipam.SubnetView, entries []domain.LedgerEntry) error {
	f, err := Workbook(subnets, entries)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("failed to close workbook: %v", err)
		}
	}()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func subnetRows(subnets []ipam.SubnetView) [][]interface{} {
	out := [][]interface{}{{"name", "network", "vlan", "gateway", "static_pools", "dhcp_ranges",
		"usable", "static_total", "static_allocated", "static_available", "allocation_pct", "description"}}
	for _, s := range subnets {
		var vlan interface{} = ""
		if s.VLANID != nil {
			vlan = *s.VLANID
		}
		row := []interface{}{s.Name, s.Network, vlan, s.Gateway,
			strings.Join(s.StaticPools, ", "), strings.Join(s.DHCPRanges, ", ")}
		if s.Summary != nil {
			row = append(row, s.Summary.Usable, s.Summary.StaticTotal, s.Summary.StaticAllocated,
				s.Summary.StaticAvailable, s.Summary.AllocationPercentage)
		} else {
			row = append(row, "", "", "", "", "")
		}
		out = append(out, append(row, s.Description))
	}
	return out
}

func ledgerRows(entries []domain.LedgerEntry, subnetNames map[int64]string) [][]interface{} {
	out := [][]interface{}{{"address", "subnet", "pool", "status", "hostname", "mac_address", "bmc",
		"description", "reserved_by", "reserved_at", "updated_at"}}
	for _, e := range entries {
		subnet := ""
		if e.SubnetID != nil {
			subnet = subnetNames[*e.SubnetID]
		}
		bmc := "no"
		if e.IsBMC {
			bmc = "yes"
		}
		out = append(out, []interface{}{e.Address, subnet, string(e.Pool), string(e.Status), e.Hostname,
			e.MACAddress, bmc, e.Description, e.ReservedBy, e.ReservedAt, e.UpdatedAt})
	}
	return out
}

func writeSheetRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
