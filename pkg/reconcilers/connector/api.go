package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/reconcilectl/pkg/engine"
)

type sourceJSON struct {
	SourceID                string         `json:"sourceId"`
	SourceDefinitionID      string         `json:"sourceDefinitionId,omitempty"`
	Name                    string         `json:"name"`
	SourceName              string         `json:"sourceName"`
	ConnectionConfiguration map[string]any `json:"connectionConfiguration"`
}

type destinationJSON struct {
	DestinationID           string         `json:"destinationId"`
	DestinationDefinitionID string         `json:"destinationDefinitionId,omitempty"`
	Name                    string         `json:"name"`
	DestinationName         string         `json:"destinationName"`
	ConnectionConfiguration map[string]any `json:"connectionConfiguration"`
}

type streamJSON struct {
	Stream struct {
		Name string `json:"name"`
	} `json:"stream"`
	Config struct {
		SyncMode            string `json:"syncMode"`
		DestinationSyncMode string `json:"destinationSyncMode"`
	} `json:"config"`
}

type connectionJSON struct {
	ConnectionID  string   `json:"connectionId"`
	Name          string   `json:"name"`
	SourceID      string   `json:"sourceId"`
	DestinationID string   `json:"destinationId"`
	OperationIDs  []string `json:"operationIds"`
	SyncCatalog   struct {
		Streams []streamJSON `json:"streams"`
	} `json:"syncCatalog"`
}

type operationJSON struct {
	OperationID           string `json:"operationId"`
	OperatorConfiguration struct {
		OperatorType  string `json:"operatorType"`
		Normalization struct {
			Option string `json:"option"`
		} `json:"normalization"`
	} `json:"operatorConfiguration"`
}

type definitionJSON struct {
	Name                    string `json:"name"`
	SourceDefinitionID      string `json:"sourceDefinitionId"`
	DestinationDefinitionID string `json:"destinationDefinitionId"`
}

// DefaultWorkspace returns the ID of the first workspace.
func (c *Client) DefaultWorkspace(ctx context.Context) (string, error) {
	var resp struct {
		Workspaces []struct {
			WorkspaceID string `json:"workspaceId"`
		} `json:"workspaces"`
	}
	if err := c.Request(ctx, "/workspaces/list", map[string]any{}, &resp); err != nil {
		return "", err
	}
	if len(resp.Workspaces) == 0 {
		return "", engine.NewPermanentError("no workspace found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithResource("/workspaces/list")
	}
	return resp.Workspaces[0].WorkspaceID, nil
}

// SourceDefinitionID finds a source definition by case-insensitive name.
func (c *Client) SourceDefinitionID(ctx context.Context, name, workspaceID string) (string, error) {
	var resp struct {
		SourceDefinitions []definitionJSON `json:"sourceDefinitions"`
	}
	if err := c.Request(ctx, "/source_definitions/list", map[string]any{"workspaceId": workspaceID}, &resp); err != nil {
		return "", err
	}
	for _, d := range resp.SourceDefinitions {
		if strings.EqualFold(d.Name, name) {
			return d.SourceDefinitionID, nil
		}
	}
	return "", engine.NewPermanentError(fmt.Sprintf("source type %q not found", name), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(name)
}

// DestinationDefinitionID finds a destination definition by case-insensitive name.
func (c *Client) DestinationDefinitionID(ctx context.Context, name, workspaceID string) (string, error) {
	var resp struct {
		DestinationDefinitions []definitionJSON `json:"destinationDefinitions"`
	}
	if err := c.Request(ctx, "/destination_definitions/list", map[string]any{"workspaceId": workspaceID}, &resp); err != nil {
		return "", err
	}
	for _, d := range resp.DestinationDefinitions {
		if strings.EqualFold(d.Name, name) {
			return d.DestinationDefinitionID, nil
		}
	}
	return "", engine.NewPermanentError(fmt.Sprintf("destination type %q not found", name), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(name)
}

func (c *Client) listSources(ctx context.Context, workspaceID string) (map[string]*remoteSource, error) {
	var resp struct {
		Sources []sourceJSON `json:"sources"`
	}
	if err := c.Request(ctx, "/sources/list", map[string]any{"workspaceId": workspaceID}, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]*remoteSource, len(resp.Sources))
	for _, s := range resp.Sources {
		out[s.Name] = &remoteSource{
			source:       &Source{Name: s.Name, Type: s.SourceName, Config: s.ConnectionConfiguration},
			id:           s.SourceID,
			definitionID: s.SourceDefinitionID,
		}
	}
	return out, nil
}

func (c *Client) listDestinations(ctx context.Context, workspaceID string) (map[string]*remoteDestination, error) {
	var resp struct {
		Destinations []destinationJSON `json:"destinations"`
	}
	if err := c.Request(ctx, "/destinations/list", map[string]any{"workspaceId": workspaceID}, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]*remoteDestination, len(resp.Destinations))
	for _, d := range resp.Destinations {
		out[d.Name] = &remoteDestination{
			destination:  &Destination{Name: d.Name, Type: d.DestinationName, Config: d.ConnectionConfiguration},
			id:           d.DestinationID,
			definitionID: d.DestinationDefinitionID,
		}
	}
	return out, nil
}

// listConnections resolves each connection's source and destination by ID
// against the given remote items. Unresolvable ends stay nil.
func (c *Client) listConnections(
	ctx context.Context,
	workspaceID string,
	sources map[string]*remoteSource,
	destinations map[string]*remoteDestination,
) (map[string]*remoteConnection, error) {
	var resp struct {
		Connections []connectionJSON `json:"connections"`
	}
	if err := c.Request(ctx, "/connections/list", map[string]any{"workspaceId": workspaceID}, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]*remoteConnection, len(resp.Connections))
	for _, cj := range resp.Connections {
		conn := &Connection{
			Name:    cj.Name,
			Streams: make(map[string]SyncMode, len(cj.SyncCatalog.Streams)),
		}
		for _, s := range sources {
			if s.id == cj.SourceID {
				conn.Source = s.source
				break
			}
		}
		for _, d := range destinations {
			if d.id == cj.DestinationID {
				conn.Destination = d.destination
				break
			}
		}
		for _, s := range cj.SyncCatalog.Streams {
			mode, err := syncModeFromAPI(s.Config.SyncMode, s.Config.DestinationSyncMode)
			if err != nil {
				return nil, engine.NewPermanentError("unsupported stream configuration", err).
					WithCode(engine.ErrCodeValidation).
					WithResource(cj.Name)
			}
			conn.Streams[s.Stream.Name] = mode
		}
		normalize := len(cj.OperationIDs) > 0
		conn.Normalize = &normalize

		out[cj.Name] = &remoteConnection{connection: conn, id: cj.ConnectionID}
	}
	return out, nil
}

// sourceCatalog discovers a source's streams and returns them as raw JSON
// objects together with the catalog ID.
func (c *Client) sourceCatalog(ctx context.Context, sourceID string) ([]map[string]any, string, error) {
	var resp struct {
		Catalog struct {
			Streams []map[string]any `json:"streams"`
		} `json:"catalog"`
		CatalogID string `json:"catalogId"`
	}
	if err := c.Request(ctx, "/sources/discover_schema", map[string]any{"sourceId": sourceID, "disable_cache": true}, &resp); err != nil {
		return nil, "", err
	}
	return resp.Catalog.Streams, resp.CatalogID, nil
}

func (c *Client) supportsNormalization(ctx context.Context, destinationDefinitionID, workspaceID string) (bool, error) {
	var resp struct {
		SupportsNormalization bool `json:"supportsNormalization"`
	}
	err := c.Request(ctx, "/destination_definition_specifications/get", map[string]any{
		"destinationDefinitionId": destinationDefinitionID,
		"workspaceId":             workspaceID,
	}, &resp)
	return resp.SupportsNormalization, err
}

func (c *Client) basicNormalizationOperation(ctx context.Context, connectionID string) (string, error) {
	var resp struct {
		Operations []operationJSON `json:"operations"`
	}
	if err := c.Request(ctx, "/operations/list", map[string]any{"connectionId": connectionID}, &resp); err != nil {
		return "", err
	}
	for _, op := range resp.Operations {
		cfg := op.OperatorConfiguration
		if cfg.OperatorType == "normalization" && cfg.Normalization.Option == "basic" {
			return op.OperationID, nil
		}
	}
	return "", nil
}

func (c *Client) createNormalizationOperation(ctx context.Context, workspaceID string) (string, error) {
	var resp struct {
		OperationID string `json:"operationId"`
	}
	err := c.Request(ctx, "/operations/create", map[string]any{
		"workspaceId": workspaceID,
		"name":        "Normalization",
		"operatorConfiguration": map[string]any{
			"operatorType":  "normalization",
			"normalization": map[string]any{"option": "basic"},
		},
	}, &resp)
	return resp.OperationID, err
}
