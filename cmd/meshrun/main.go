/*
meshrun is a helper for launching distributed mesh jobs on a local machine.

Since Go is good at shared memory, generally programs should use Go's
primitives rather than message passing in a shared-memory environment.
However, running locally can be helpful for debugging and prototyping.

meshrun launches n instances of the given executable, wiring each one with
the -mpi-addr and -mpi-alladdr flags the mpi package expects. Any shared
memory parallelism should be set in the program itself using
runtime.GOMAXPROCS.

	meshrun -n 4 programname -otherflag=value

The process addresses default to consecutive loopback ports. A YAML
hostfile can override them:

	addresses:
	  - "127.0.0.1:5000"
	  - "127.0.0.1:5001"

	meshrun --hostfile hosts.yaml programname
*/
package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

type hostfile struct {
	Addresses []string `yaml:"addresses"`
}

func main() {
	var (
		numProcs int
		hostPath string
		basePort int
	)

	cmd := &cobra.Command{
		Use:           "meshrun executable [args...]",
		Short:         "launch a distributed mesh job as local processes",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := resolveAddrs(hostPath, numProcs, basePort)
			if err != nil {
				return err
			}
			return launch(args[0], addrs, args[1:])
		},
	}
	cmd.Flags().IntVarP(&numProcs, "np", "n", 1, "number of processes to launch")
	cmd.Flags().StringVar(&hostPath, "hostfile", "", "YAML file listing the process addresses")
	cmd.Flags().IntVar(&basePort, "base-port", 5000, "first loopback port when no hostfile is given")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveAddrs returns the address of every process, either from the
// hostfile or generated from consecutive loopback ports.
func resolveAddrs(hostPath string, numProcs, basePort int) ([]string, error) {
	if hostPath != "" {
		b, err := os.ReadFile(hostPath)
		if err != nil {
			return nil, err
		}
		var hf hostfile
		if err := yaml.Unmarshal(b, &hf); err != nil {
			return nil, fmt.Errorf("parsing hostfile %s: %w", hostPath, err)
		}
		if len(hf.Addresses) == 0 {
			return nil, fmt.Errorf("hostfile %s lists no addresses", hostPath)
		}
		return hf.Addresses, nil
	}

	if numProcs < 1 {
		return nil, fmt.Errorf("number of processes must be positive, got %d", numProcs)
	}
	addrs := make([]string, numProcs)
	for i := range addrs {
		addrs[i] = ":" + strconv.Itoa(basePort+i)
	}
	return addrs, nil
}

// launch runs one instance of the executable per address, each wired with
// its own -mpi-addr and the full -mpi-alladdr list, and waits for all of
// them to finish.
func launch(execName string, addrs, args []string) error {
	addrList := strings.Join(addrs, ",")

	var g errgroup.Group
	for _, addr := range addrs {
		g.Go(func() error {
			a := append(append([]string(nil), args...),
				"-mpi-addr", addr, "-mpi-alladdr", addrList)
			cmd := exec.Command(execName, a...)
			cmd.Stdin = os.Stdin
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		})
	}
	return g.Wait()
}
