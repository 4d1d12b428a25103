package sqlstore

import (
	"fmt"
	"strings"
)

// =============================================================================
// SCHEMA
// =============================================================================

// Times are stored as fixed-width UTC text so that string comparison orders
// them correctly on every dialect.
type table struct {
	name    string
	seq     bool
	columns []string
	indexes []index
}

type index struct {
	name    string
	columns string
}

var schema = []table{
	{
		// Materialized organization stock. One row per organization,
		// created on first touch and locked by every mutation.
		name: "organization_stock",
		columns: []string{
			"organization_id VARCHAR(64) NOT NULL PRIMARY KEY",
			"available_bags INTEGER NOT NULL DEFAULT 0",
			"total_added INTEGER NOT NULL DEFAULT 0",
			"total_removed INTEGER NOT NULL DEFAULT 0",
			"updated_at VARCHAR(40) NOT NULL",
		},
	},
	{
		// Allocation periods. closed_at IS NULL marks the driver's current one.
		name: "allocation_periods",
		seq:  true,
		columns: []string{
			"id VARCHAR(64) NOT NULL UNIQUE",
			"organization_id VARCHAR(64) NOT NULL",
			"driver_id VARCHAR(64) NOT NULL",
			"allocated_bags INTEGER NOT NULL",
			"bags_from_previous INTEGER NOT NULL DEFAULT 0",
			"used_bags INTEGER NOT NULL DEFAULT 0",
			"transferred_in INTEGER NOT NULL DEFAULT 0",
			"transferred_out INTEGER NOT NULL DEFAULT 0",
			"returned_bags INTEGER NOT NULL DEFAULT 0",
			"opened_at VARCHAR(40) NOT NULL",
			"closed_at VARCHAR(40)",
		},
		indexes: []index{
			{name: "idx_periods_driver", columns: "organization_id, driver_id, closed_at"},
		},
	},
	{
		name: "bag_issues",
		seq:  true,
		columns: []string{
			"id VARCHAR(64) NOT NULL UNIQUE",
			"organization_id VARCHAR(64) NOT NULL",
			"driver_id VARCHAR(64) NOT NULL",
			"client_id VARCHAR(64) NOT NULL",
			"client_email VARCHAR(255) NOT NULL",
			"number_of_bags INTEGER NOT NULL",
			"otp_hash VARCHAR(128) NOT NULL",
			"otp_expires_at VARCHAR(40) NOT NULL",
			"is_verified INTEGER NOT NULL DEFAULT 0",
			"issued_at VARCHAR(40)",
			"resend_count INTEGER NOT NULL DEFAULT 0",
			"created_at VARCHAR(40) NOT NULL",
		},
		indexes: []index{
			{name: "idx_issues_org_status", columns: "organization_id, is_verified, otp_expires_at"},
		},
	},
	{
		name: "bag_transfers",
		seq:  true,
		columns: []string{
			"id VARCHAR(64) NOT NULL UNIQUE",
			"organization_id VARCHAR(64) NOT NULL",
			"from_driver_id VARCHAR(64) NOT NULL",
			"to_driver_id VARCHAR(64) NOT NULL",
			"number_of_bags INTEGER NOT NULL",
			"status VARCHAR(16) NOT NULL",
			"source_period_id VARCHAR(64)",
			"notes TEXT",
			"completed_at VARCHAR(40)",
			"created_at VARCHAR(40) NOT NULL",
		},
		indexes: []index{
			{name: "idx_transfers_org_status", columns: "organization_id, status"},
		},
	},
	{
		// Append-only journal. No UPDATE or DELETE ever touches this table.
		name: "movements",
		seq:  true,
		columns: []string{
			"id VARCHAR(64) NOT NULL UNIQUE",
			"organization_id VARCHAR(64) NOT NULL",
			"movement_type VARCHAR(32) NOT NULL",
			"from_account VARCHAR(140) NOT NULL",
			"to_account VARCHAR(140) NOT NULL",
			"quantity VARCHAR(32) NOT NULL",
			"reference_id VARCHAR(64)",
			"reason TEXT",
			"actor_id VARCHAR(64)",
			"created_at VARCHAR(40) NOT NULL",
		},
		indexes: []index{
			{name: "idx_movements_org_type", columns: "organization_id, movement_type"},
			{name: "idx_movements_from", columns: "organization_id, from_account"},
			{name: "idx_movements_to", columns: "organization_id, to_account"},
		},
	},
}

// statements renders the schema for one dialect.
func (d dialect) statements() []string {
	var out []string
	for _, t := range schema {
		var cols []string
		if t.seq {
			cols = append(cols, d.seqColumn)
		}
		cols = append(cols, t.columns...)
		if d.inlineIndexes {
			for _, idx := range t.indexes {
				cols = append(cols, fmt.Sprintf("INDEX %s (%s)", idx.name, idx.columns))
			}
		}
		out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.name, strings.Join(cols, ",\n\t")))
		if !d.inlineIndexes {
			for _, idx := range t.indexes {
				out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.name, t.name, idx.columns))
			}
		}
	}
	return out
}
