package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/edvin/graphfleet/internal/cli"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "profile":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: fleetctl profile set|use|list")
			os.Exit(1)
		}
		runProfile(os.Args[2], os.Args[3:])

	case "instances":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: fleetctl instances list|get|drain")
			os.Exit(1)
		}
		runInstances(os.Args[2], os.Args[3:])

	case "graphs":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: fleetctl graphs list|create|delete")
			os.Exit(1)
		}
		runGraphs(os.Args[2], os.Args[3:])

	case "query":
		fs := flag.NewFlagSet("query", flag.ExitOnError)
		write := fs.Bool("write", false, "Mark the query as mutating (routes to the writer)")
		tier := fs.String("tier", "", "Placement tier hint for shared-repository graphs")
		fs.Parse(os.Args[2:])

		if fs.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: fleetctl query [-write] [-tier TIER] <graph-id> <query>")
			os.Exit(1)
		}

		c := mustClient()
		if err := cli.GraphQuery(c, fs.Arg(0), fs.Arg(1), *write, *tier); err != nil {
			fatal(err)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runProfile(sub string, args []string) {
	switch sub {
	case "set":
		fs := flag.NewFlagSet("profile set", flag.ExitOnError)
		apiURL := fs.String("api", "", "Fleet API base URL (required)")
		apiKey := fs.String("key", "", "Fleet API key (required)")
		fs.Parse(args)

		if fs.NArg() < 1 || *apiURL == "" || *apiKey == "" {
			fmt.Fprintln(os.Stderr, "Usage: fleetctl profile set -api URL -key KEY <name>")
			os.Exit(1)
		}
		if err := cli.SetProfile(fs.Arg(0), *apiURL, *apiKey); err != nil {
			fatal(err)
		}
		fmt.Printf("profile %s saved and selected\n", fs.Arg(0))

	case "use":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: fleetctl profile use <name>")
			os.Exit(1)
		}
		if err := cli.UseProfile(args[0]); err != nil {
			fatal(err)
		}
		fmt.Printf("switched to profile %s\n", args[0])

	case "list":
		cfg, err := cli.LoadProfiles()
		if err != nil {
			fatal(err)
		}
		for name, p := range cfg.Profiles {
			marker := " "
			if name == cfg.CurrentProfile {
				marker = "*"
			}
			fmt.Printf("%s %s\t%s\n", marker, name, p.APIURL)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown profile command: %s\n", sub)
		os.Exit(1)
	}
}

func runInstances(sub string, args []string) {
	switch sub {
	case "list":
		fs := flag.NewFlagSet("instances list", flag.ExitOnError)
		region := fs.String("region", "", "Filter by region")
		tier := fs.String("tier", "", "Filter by tier")
		status := fs.String("status", "", "Filter by status")
		fs.Parse(args)

		c := mustClient()
		if err := cli.InstancesList(c, *region, *tier, *status); err != nil {
			fatal(err)
		}

	case "get":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: fleetctl instances get <instance-id>")
			os.Exit(1)
		}
		c := mustClient()
		if err := cli.InstanceGet(c, args[0]); err != nil {
			fatal(err)
		}

	case "drain":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: fleetctl instances drain <instance-id>")
			os.Exit(1)
		}
		c := mustClient()
		if err := cli.InstanceDrain(c, args[0]); err != nil {
			fatal(err)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown instances command: %s\n", sub)
		os.Exit(1)
	}
}

func runGraphs(sub string, args []string) {
	switch sub {
	case "list":
		fs := flag.NewFlagSet("graphs list", flag.ExitOnError)
		entity := fs.String("entity", "", "Filter by entity ID")
		instance := fs.String("instance", "", "Filter by instance ID")
		fs.Parse(args)

		c := mustClient()
		if err := cli.GraphsList(c, *entity, *instance); err != nil {
			fatal(err)
		}

	case "create":
		fs := flag.NewFlagSet("graphs create", flag.ExitOnError)
		graphID := fs.String("id", "", "Graph ID (generated when omitted)")
		entity := fs.String("entity", "", "Owning entity ID (required)")
		tier := fs.String("tier", "", "Placement tier")
		region := fs.String("region", "", "Region (required)")
		fs.Parse(args)

		if *entity == "" || *region == "" {
			fmt.Fprintln(os.Stderr, "Usage: fleetctl graphs create -entity ENTITY -region REGION [-id ID] [-tier TIER]")
			os.Exit(1)
		}
		c := mustClient()
		if err := cli.GraphCreate(c, *graphID, *entity, *tier, *region); err != nil {
			fatal(err)
		}

	case "delete":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: fleetctl graphs delete <graph-id>")
			os.Exit(1)
		}
		c := mustClient()
		if err := cli.GraphDelete(c, args[0]); err != nil {
			fatal(err)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown graphs command: %s\n", sub)
		os.Exit(1)
	}
}

func mustClient() *cli.Client {
	c, err := cli.ResolveClient()
	if err != nil {
		fatal(err)
	}
	return c
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  fleetctl profile set -api URL -key KEY <name>
  fleetctl profile use <name>
  fleetctl profile list
  fleetctl instances list [-region R] [-tier T] [-status S]
  fleetctl instances get <instance-id>
  fleetctl instances drain <instance-id>
  fleetctl graphs list [-entity ENTITY] [-instance INSTANCE]
  fleetctl graphs create -entity ENTITY -region REGION [-id ID] [-tier TIER]
  fleetctl graphs delete <graph-id>
  fleetctl query [-write] [-tier TIER] <graph-id> <query>

Commands:
  profile    Manage saved API endpoints (~/.config/graphfleet/config.yaml)
  instances  Inspect and drain fleet instances
  graphs     Manage tenant graph assignments
  query      Run a query against a graph through the gateway

Environment:
  FLEET_API_URL, FLEET_API_KEY override the selected profile.`)
}
