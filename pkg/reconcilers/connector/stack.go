package connector

import (
	"context"
	"fmt"

	"dario.cat/mergo"
	"github.com/mitchellh/copystructure"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/telemetry"
)

// Stack reconciles a set of connections, and the sources and destinations
// they reference, against one connector platform instance.
type Stack struct {
	name              string
	client            *Client
	connections       []*Connection
	deleteUnmentioned bool
}

// NewStack validates the configured connections and creates a stack
// reconciler. With deleteUnmentioned false, remote items that are not part
// of the configuration are neither reported nor deleted.
func NewStack(name string, client *Client, connections []*Connection, deleteUnmentioned bool) (*Stack, error) {
	sources := map[string]*Source{}
	destinations := map[string]*Destination{}
	seen := map[string]bool{}

	for _, conn := range connections {
		if conn.Source == nil || conn.Destination == nil {
			return nil, fmt.Errorf("connection %q needs a source and a destination", conn.Name)
		}
		if seen[conn.Name] {
			return nil, fmt.Errorf("duplicate connection %q", conn.Name)
		}
		seen[conn.Name] = true

		if prev, ok := sources[conn.Source.Name]; ok && prev != conn.Source && prev.MustBeRecreated(conn.Source) {
			return nil, fmt.Errorf("source %q is defined twice with different configuration", conn.Source.Name)
		}
		sources[conn.Source.Name] = conn.Source

		if prev, ok := destinations[conn.Destination.Name]; ok && prev != conn.Destination && prev.MustBeRecreated(conn.Destination) {
			return nil, fmt.Errorf("destination %q is defined twice with different configuration", conn.Destination.Name)
		}
		destinations[conn.Destination.Name] = conn.Destination
	}

	return &Stack{
		name:              name,
		client:            client,
		connections:       connections,
		deleteUnmentioned: deleteUnmentioned,
	}, nil
}

// Name implements engine.Reconciler.
func (s *Stack) Name() string { return s.name }

// Check computes the diff between the configuration and the remote state
// without changing anything.
func (s *Stack) Check(ctx context.Context) (engine.CheckResult, error) {
	d, err := s.reconcile(ctx, true)
	if err != nil {
		return engine.CheckResult{}, err
	}
	return engine.DiffResult(d), nil
}

// Apply reconciles the remote state and returns the diff that was applied.
func (s *Stack) Apply(ctx context.Context) (engine.CheckResult, error) {
	d, err := s.reconcile(ctx, false)
	if err != nil {
		return engine.CheckResult{}, err
	}
	return engine.DiffResult(d), nil
}

func (s *Stack) reconcile(ctx context.Context, dryRun bool) (diff.Diff, error) {
	logger := telemetry.FromContext(ctx).WithField("stack", s.name).WithField("dry_run", dryRun)

	configConns := make(map[string]*Connection, len(s.connections))
	configSources := map[string]*Source{}
	configDests := map[string]*Destination{}
	for _, conn := range s.connections {
		configConns[conn.Name] = conn
		configSources[conn.Source.Name] = conn.Source
		configDests[conn.Destination.Name] = conn.Destination
	}

	workspaceID, err := s.client.DefaultWorkspace(ctx)
	if err != nil {
		return diff.Diff{}, err
	}
	existingSources, err := s.client.listSources(ctx, workspaceID)
	if err != nil {
		return diff.Diff{}, err
	}
	existingDests, err := s.client.listDestinations(ctx, workspaceID)
	if err != nil {
		return diff.Diff{}, err
	}

	connsDiff, err := s.reconcileConnectionsPre(ctx, configConns, existingSources, existingDests, workspaceID, dryRun)
	if err != nil {
		return diff.Diff{}, err
	}
	allSources, sourcesDiff, err := s.reconcileSources(ctx, configSources, existingSources, workspaceID, dryRun)
	if err != nil {
		return diff.Diff{}, err
	}
	allDests, destsDiff, err := s.reconcileDestinations(ctx, configDests, existingDests, workspaceID, dryRun)
	if err != nil {
		return diff.Diff{}, err
	}
	if !dryRun {
		if err := s.reconcileConnectionsPost(ctx, configConns, allSources, allDests, workspaceID); err != nil {
			return diff.Diff{}, err
		}
	}

	result := diff.New().Join(sourcesDiff).Join(destsDiff).Join(connsDiff)
	logger.WithField("entries", result.Summary().Total()).Debug("Connector stack reconciled")
	return result, nil
}

func (s *Stack) reconcileSources(
	ctx context.Context,
	configured map[string]*Source,
	existing map[string]*remoteSource,
	workspaceID string,
	dryRun bool,
) (map[string]*remoteSource, diff.Diff, error) {
	result := diff.New()
	initialized := map[string]*remoteSource{}

	for _, name := range sortedNames(keysOf(configured), keysOf(existing)) {
		cfg, ex := configured[name], existing[name]
		if cfg == nil && !s.deleteUnmentioned {
			continue
		}

		var desired, actual map[string]any
		if cfg != nil {
			desired = cfg.Config
		}
		if ex != nil {
			actual = ex.source.Config
		}
		result = result.WithNested(name, diff.Compare(desired, actual))

		if ex != nil && (cfg == nil || cfg.MustBeRecreated(ex.source)) {
			if !dryRun {
				if err := s.client.Request(ctx, "/sources/delete", map[string]any{"sourceId": ex.id}, nil); err != nil {
					return nil, diff.Diff{}, err
				}
			}
			ex = nil
		}
		if cfg == nil {
			continue
		}

		definitionID, err := s.client.SourceDefinitionID(ctx, cfg.Type, workspaceID)
		if err != nil {
			return nil, diff.Diff{}, err
		}
		body := map[string]any{"name": cfg.Name, "connectionConfiguration": cfg.Config}

		var id string
		switch {
		case ex != nil:
			id = ex.id
			if !dryRun {
				body["sourceId"] = id
				if err := s.client.Request(ctx, "/sources/update", body, nil); err != nil {
					return nil, diff.Diff{}, err
				}
			}
		case !dryRun:
			body["sourceDefinitionId"] = definitionID
			body["workspaceId"] = workspaceID
			var created sourceJSON
			if err := s.client.Request(ctx, "/sources/create", body, &created); err != nil {
				return nil, diff.Diff{}, err
			}
			id = created.SourceID
		}

		initialized[name] = &remoteSource{source: cfg, id: id, definitionID: definitionID}
	}

	return initialized, result, nil
}

func (s *Stack) reconcileDestinations(
	ctx context.Context,
	configured map[string]*Destination,
	existing map[string]*remoteDestination,
	workspaceID string,
	dryRun bool,
) (map[string]*remoteDestination, diff.Diff, error) {
	result := diff.New()
	initialized := map[string]*remoteDestination{}

	for _, name := range sortedNames(keysOf(configured), keysOf(existing)) {
		cfg, ex := configured[name], existing[name]
		if cfg == nil && !s.deleteUnmentioned {
			continue
		}

		var desired, actual map[string]any
		if cfg != nil {
			desired = cfg.Config
		}
		if ex != nil {
			actual = ex.destination.Config
		}
		result = result.WithNested(name, diff.Compare(desired, actual))

		if ex != nil && (cfg == nil || cfg.MustBeRecreated(ex.destination)) {
			if !dryRun {
				if err := s.client.Request(ctx, "/destinations/delete", map[string]any{"destinationId": ex.id}, nil); err != nil {
					return nil, diff.Diff{}, err
				}
			}
			ex = nil
		}
		if cfg == nil {
			continue
		}

		definitionID, err := s.client.DestinationDefinitionID(ctx, cfg.Type, workspaceID)
		if err != nil {
			return nil, diff.Diff{}, err
		}
		body := map[string]any{"name": cfg.Name, "connectionConfiguration": cfg.Config}

		var id string
		switch {
		case ex != nil:
			id = ex.id
			if !dryRun {
				body["destinationId"] = id
				if err := s.client.Request(ctx, "/destinations/update", body, nil); err != nil {
					return nil, diff.Diff{}, err
				}
			}
		case !dryRun:
			body["destinationDefinitionId"] = definitionID
			body["workspaceId"] = workspaceID
			var created destinationJSON
			if err := s.client.Request(ctx, "/destinations/create", body, &created); err != nil {
				return nil, diff.Diff{}, err
			}
			id = created.DestinationID
		}

		initialized[name] = &remoteDestination{destination: cfg, id: id, definitionID: definitionID}
	}

	return initialized, result, nil
}

// reconcileConnectionsPre computes the connection diff and deletes remote
// connections that are unmentioned or must be recreated.
func (s *Stack) reconcileConnectionsPre(
	ctx context.Context,
	configured map[string]*Connection,
	sources map[string]*remoteSource,
	destinations map[string]*remoteDestination,
	workspaceID string,
	dryRun bool,
) (diff.Diff, error) {
	existing, err := s.client.listConnections(ctx, workspaceID, sources, destinations)
	if err != nil {
		return diff.Diff{}, err
	}

	result := diff.New()
	for _, name := range sortedNames(keysOf(configured), keysOf(existing)) {
		cfg, ex := configured[name], existing[name]
		if cfg == nil && !s.deleteUnmentioned {
			continue
		}

		result = result.WithNested(name, diffConnection(cfg, ex))

		if ex != nil && (cfg == nil || cfg.MustBeRecreated(ex.connection)) && !dryRun {
			if err := s.client.Request(ctx, "/connections/delete", map[string]any{"connectionId": ex.id}, nil); err != nil {
				return diff.Diff{}, err
			}
		}
	}
	return result, nil
}

func diffConnection(cfg *Connection, ex *remoteConnection) diff.Diff {
	var desired, actual map[string]any
	if ex != nil {
		actual = ex.connection.toMap()
	}
	if cfg != nil {
		desired = cfg.toMap()
		// unset means "whatever the destination supports"
		if cfg.Normalize == nil && actual != nil {
			if v, ok := actual["normalize data"]; ok {
				desired["normalize data"] = v
			}
		}
	}
	return diff.Compare(desired, actual)
}

// reconcileConnectionsPost creates missing connections and updates existing
// ones with their configured stream catalog.
func (s *Stack) reconcileConnectionsPost(
	ctx context.Context,
	configured map[string]*Connection,
	sources map[string]*remoteSource,
	destinations map[string]*remoteDestination,
	workspaceID string,
) error {
	existing, err := s.client.listConnections(ctx, workspaceID, sources, destinations)
	if err != nil {
		return err
	}

	for _, name := range sortedNames(keysOf(configured)) {
		cfg := configured[name]
		ex := existing[name]
		source := sources[cfg.Source.Name]
		destination := destinations[cfg.Destination.Name]

		var existingID string
		if ex != nil {
			existingID = ex.id
		}
		operationID, err := s.reconcileNormalization(ctx, existingID, destination, cfg.Normalize, workspaceID)
		if err != nil {
			return err
		}
		operationIDs := []string{}
		if operationID != "" {
			operationIDs = append(operationIDs, operationID)
		}

		baseStreams, catalogID, err := s.client.sourceCatalog(ctx, source.id)
		if err != nil {
			return err
		}
		streams := []map[string]any{}
		for _, stream := range baseStreams {
			mode, ok := cfg.Streams[streamName(stream)]
			if !ok {
				continue
			}
			configuredStream, err := configureStream(stream, mode)
			if err != nil {
				return err
			}
			streams = append(streams, configuredStream)
		}

		body := map[string]any{
			"name":                name,
			"namespaceDefinition": "source",
			"namespaceFormat":     "${SOURCE_NAMESPACE}",
			"prefix":              "",
			"operationIds":        operationIDs,
			"syncCatalog":         map[string]any{"streams": streams},
			"scheduleType":        "manual",
			"status":              "active",
			"sourceCatalogId":     catalogID,
		}

		if ex != nil {
			body["connectionId"] = ex.id
			err = s.client.Request(ctx, "/connections/update", body, nil)
		} else {
			body["sourceId"] = source.id
			body["destinationId"] = destination.id
			err = s.client.Request(ctx, "/connections/create", body, nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// reconcileNormalization returns the basic normalization operation to attach
// to a connection, creating it when needed. An unset preference enables
// normalization on destinations that support it.
func (s *Stack) reconcileNormalization(
	ctx context.Context,
	connectionID string,
	destination *remoteDestination,
	normalize *bool,
	workspaceID string,
) (string, error) {
	if normalize != nil && !*normalize {
		return "", nil
	}

	supported, err := s.client.supportsNormalization(ctx, destination.definitionID, workspaceID)
	if err != nil {
		return "", err
	}
	if !supported {
		if normalize != nil {
			return "", engine.NewPermanentError(
				fmt.Sprintf("destination %s does not support normalization", destination.destination.Name), nil).
				WithCode(engine.ErrCodeValidation).
				WithResource(destination.destination.Name)
		}
		return "", nil
	}

	if connectionID != "" {
		existing, err := s.client.basicNormalizationOperation(ctx, connectionID)
		if err != nil {
			return "", err
		}
		if existing != "" {
			return existing, nil
		}
	}
	return s.client.createNormalizationOperation(ctx, workspaceID)
}

// configureStream overlays the sync mode on a discovered stream definition.
func configureStream(stream map[string]any, mode SyncMode) (map[string]any, error) {
	copied, err := copystructure.Copy(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to copy stream definition: %w", err)
	}
	out := copied.(map[string]any)

	overlay := map[string]any{
		"config": map[string]any{
			"syncMode":            mode.Source,
			"destinationSyncMode": mode.Destination,
		},
	}
	if err := mergo.Merge(&out, overlay, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge stream config: %w", err)
	}
	return out, nil
}

func streamName(stream map[string]any) string {
	inner, _ := stream["stream"].(map[string]any)
	name, _ := inner["name"].(string)
	return name
}

var _ engine.Reconciler = (*Stack)(nil)
