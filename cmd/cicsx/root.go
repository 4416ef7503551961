package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rflorenc/cics-explorer/internal/action"
	"github.com/rflorenc/cics-explorer/internal/cmci"
	"github.com/rflorenc/cics-explorer/internal/config"
	"github.com/rflorenc/cics-explorer/internal/container"
	"github.com/rflorenc/cics-explorer/internal/logging"
	"github.com/rflorenc/cics-explorer/internal/models"
	"github.com/rflorenc/cics-explorer/internal/resources"
	"github.com/rflorenc/cics-explorer/internal/session"
)

// app is the state shared by every command once flags and the config file
// have been read.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	profiles *models.ProfileStore
	client   *cmci.Client
	executor *action.Executor
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cicsx",
		Short: "Browse and operate CICS resources through the CMCI REST API",
		Long: `cicsx lists CICS resources page by page through CMCI result caches and
runs actions (ENABLE, DISABLE, NEWCOPY, ...) against them.

Profiles are read from the config file:
  cicsx --config cicsx.yaml list dev program --criteria 'PAY*'`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Flags())
		},
	}
	a.cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(a),
		newListCmd(a),
		newActionCmd(a),
		newKindsCmd(),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(fs *pflag.FlagSet) error {
	if err := a.cfg.Load(fs); err != nil {
		return err
	}
	log, err := logging.New(a.cfg.Log)
	if err != nil {
		return err
	}
	a.log = log

	a.profiles = models.NewProfileStore()
	if err := a.cfg.LoadProfiles(a.profiles); err != nil {
		return err
	}
	a.client = cmci.NewClient(session.NewRegistry(log),
		cmci.WithLogger(log),
		cmci.WithUserAgent(cmci.UserAgent("cics-explorer", version, "cicsx", runtime.Version())),
	)
	a.executor = action.NewExecutor(a.client,
		action.WithPollDelay(a.cfg.PollDelay),
		action.WithMaxPolls(a.cfg.MaxPolls),
		action.WithLogger(log),
	)
	return nil
}

// scopeFlags selects the node a command works on.
type scopeFlags struct {
	region string
	plex   string
	parent string
}

func (f *scopeFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.region, "region", "", "Region name (defaults to the profile's regionName)")
	fs.StringVar(&f.plex, "plex", "", "CICSplex name (defaults to the profile's cicsPlex)")
	fs.StringVar(&f.parent, "parent", "", "Parent resource name, required for child kinds such as librarydataset")
}

// openContainer resolves the profile and kind and builds the container for the
// selected node.
func (a *app) openContainer(profile, kindName string, f scopeFlags) (*container.Container, error) {
	p := a.profiles.Get(profile)
	if p == nil {
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
	kind, ok := resources.Lookup(kindName)
	if !ok {
		return nil, fmt.Errorf("unknown resource kind %q, expected one of: %s", kindName, strings.Join(resources.Names(), ", "))
	}

	scope := container.Scope{Profile: p, CICSPlex: p.CICSPlex, Region: p.Region}
	if f.plex != "" {
		scope.CICSPlex = f.plex
	}
	if f.region != "" {
		scope.Region = f.region
	}

	opts := []container.Option{container.WithPageSize(a.cfg.PageSize), container.WithLogger(a.log)}
	if kind.ParentKey != "" {
		if f.parent == "" {
			return nil, fmt.Errorf("--parent is required for %s", kind.Name)
		}
		pk, _ := kind.ParentKind()
		opts = append(opts, container.WithParent(pk.Wrap(models.Attributes{pk.PrimaryKey: f.parent})))
	}
	return container.New(a.client, kind, scope, opts...), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cicsx %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
