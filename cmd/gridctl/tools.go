package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shieldgrid/gridctl/internal/driver"
	"github.com/shieldgrid/gridctl/internal/infrastructure/logging"
	"github.com/shieldgrid/gridctl/internal/process"
	"github.com/shieldgrid/gridctl/internal/protocol"
)

func upCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Start every configured device bot and the robot, restarting them on failure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(v)
			if err != nil {
				return err
			}
			log := logging.NewService(cfg.Logging, "gridctl-up", version)

			sup, err := process.NewSupervisor(cfg.Supervisor, process.Children(cfg, path))
			if err != nil {
				return err
			}
			sup.SetLogger(log)
			return sup.Run(cmd.Context())
		},
	}
}

func codesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "codes",
		Short: "Print the binary bank protocol code tables",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			renderCodes(cmd.OutOrStdout(), protocol.Tables())
		},
	}
}

func renderCodes(w io.Writer, tables []protocol.CodeTable) {
	for _, t := range tables {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetTitle(t.Title())
		tw.AppendHeader(table.Row{"Name", "Code"})
		for _, e := range t.Entries() {
			tw.AppendRow(table.Row{e.Name, e.Value})
		}
		tw.Render()
	}
}

func portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and their USB identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := driver.ListPorts()
			if err != nil {
				return err
			}
			renderPorts(cmd.OutOrStdout(), ports)
			return nil
		},
	}
}

func renderPorts(w io.Writer, ports []driver.PortInfo) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Port", "USB", "VID:PID", "Serial", "Product", "Selector"})
	for _, p := range ports {
		id, selector := "", ""
		if p.IsUSB {
			id = fmt.Sprintf("%s:%s", p.VID, p.PID)
			selector = "auto:" + id
			if p.SerialNumber != "" {
				selector = "auto:" + p.SerialNumber
			}
		}
		tw.AppendRow(table.Row{p.Name, p.IsUSB, id, p.SerialNumber, p.Product, selector})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "Total", len(ports)})
	tw.Render()
}
