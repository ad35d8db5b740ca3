package integrations

import (
	"context"
	"strings"

	"linkit/pkg/httpclient"
	"linkit/services/registry"
)

const trackGroup = "trackDetails"

type savedTracks struct {
	Items []struct {
		AddedAt string `json:"added_at"`
		Track   struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			URI  string `json:"uri"`
		} `json:"track"`
	} `json:"items"`
}

func (in *integrations) spotify() definition {
	return definition{
		service: registry.Service{
			ID:            "spotify",
			Name:          "Spotify Service",
			Description:   "application for listen music",
			LoginRequired: true,
			Image:         "https://upload.wikimedia.org/wikipedia/commons/1/19/Spotify_logo_without_text.svg",
			Auth:          authInfo("spotify"),
		},
		events: []registry.Event{
			{
				Type:                registry.Action,
				IDNode:              "newSavedTrack",
				Name:                "New Saved Track",
				Description:         "Triggers when a track is added to your library",
				FieldGroupTemplates: []registry.FieldGroup{},
				Check:               in.spotifyNewSavedTrack,
			},
			{
				Type:        registry.Reaction,
				IDNode:      "addToQueue",
				Name:        "Add To Queue",
				Description: "Add a track to the playback queue",
				FieldGroupTemplates: []registry.FieldGroup{
					group(trackGroup, "Track Details", "The track to queue",
						field("trackUri", registry.FieldString, "Spotify URI of the track, e.g. spotify:track:4iV5W9uYEdYUVa79Axb7Rh"),
					),
				},
				Execute: in.spotifyAddToQueue,
			},
		},
	}
}

func (in *integrations) spotifyNewSavedTrack(ctx context.Context, params []registry.FieldGroup) (bool, error) {
	client, wc, err := in.userClient(ctx, params, "spotify", in.urls.Spotify)
	if err != nil {
		return false, err
	}
	var saved savedTracks
	if _, err := client.Get("/me/tracks",
		httpclient.SetContext(ctx),
		httpclient.SetQueryParam("limit", "1"),
		httpclient.SetResult(&saved),
	); err != nil {
		return false, err
	}
	if len(saved.Items) == 0 {
		return false, nil
	}
	latest := saved.Items[0]
	return in.observe(markerKey("spotify", wc.WorkflowID), latest.Track.ID+"@"+latest.AddedAt), nil
}

func (in *integrations) spotifyAddToQueue(ctx context.Context, params []registry.FieldGroup) (any, error) {
	uri, err := registry.RequireString(params, trackGroup, "trackUri")
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(uri, "spotify:") {
		uri = "spotify:track:" + uri
	}
	client, _, err := in.userClient(ctx, params, "spotify", in.urls.Spotify)
	if err != nil {
		return nil, err
	}
	if _, err := client.Post("/me/player/queue",
		httpclient.SetContext(ctx),
		httpclient.SetQueryParam("uri", uri),
	); err != nil {
		return nil, err
	}
	return uri, nil
}
