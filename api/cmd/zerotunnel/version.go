package zerotunnel

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/data"
)

func newVersionCommand() *cobra.Command {
	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(data.GetVersion())
		},
	}
	return versionCmd
}
