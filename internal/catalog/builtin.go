package catalog

import "github.com/sharkusmanch/fleet-backup/internal/domain"

func builtin() []domain.RoleAction {
	return []domain.RoleAction{
		{
			Role:  "beegfs-meta",
			Name:  "BeeGFS Meta",
			Paths: []string{"/etc/beegfs/", "/data/beegfs_meta_logs"},
		},
		{
			Role:  "beegfs-storage",
			Name:  "BeeGFS Storage",
			Paths: []string{"/etc/beegfs/"},
		},
		{
			Role:  "pacemaker",
			Name:  "Pacemaker/Corosync",
			Paths: []string{"/etc/corosync", "/etc/pacemaker"},
		},
		{
			Role:  "bright",
			Name:  "Bright Cluster Manager",
			Paths: []string{"/cm/local/apps/slurm", "/cm/shared/"},
		},
		{
			Role:  "grafana",
			Name:  "Grafana/InfluxDB",
			Paths: []string{"/etc/grafana"},
			Dump: &domain.DumpAction{
				Command:  "influxd backup /tmp/influxdb_backup",
				Output:   "/tmp/influxdb_backup",
				Advisory: true,
				Cleanup:  true,
			},
		},
		{
			Role: "mysql",
			Name: "MySQL/MariaDB",
			Dump: &domain.DumpAction{
				Command: "mysqldump --all-databases > /tmp/all_databases.sql",
				Output:  "/tmp/all_databases.sql",
				Cleanup: true,
			},
		},
		{
			Role: "idrac",
			Name: "Dell iDRAC",
			Dump: &domain.DumpAction{
				Command: "racadm scp export -f /tmp/idrac_scp_backup.xml",
				Output:  "/tmp/idrac_scp_backup.xml",
				Cleanup: true,
			},
		},
		{
			Role: "net-bonding",
			Name: "Network Bonding",
			Paths: []string{
				"/etc/netplan/",
				"/etc/sysconfig/network-scripts/",
				"/etc/network/",
				"/etc/NetworkManager/system-connections/",
				"/etc/modprobe.d/",
			},
		},
		{
			Role: "network-services",
			Name: "Core Network Services",
			Paths: []string{
				"/etc/named.conf",
				"/etc/named/",
				"/var/named/",
				"/etc/dhcp/",
				"/etc/ntp.conf",
				"/etc/chrony.conf",
				"/etc/chrony.keys",
			},
		},
		{
			Role:  "firewall",
			Name:  "Firewall",
			Paths: []string{"/etc/iptables/", "/etc/sysconfig/iptables", "/etc/firewalld/"},
		},
		{
			Role:    domain.RoleSystemFull,
			Name:    "Full System (Optimized)",
			Paths:   []string{"/"},
			Exclude: domain.SystemFullExclusions(),
		},
	}
}
