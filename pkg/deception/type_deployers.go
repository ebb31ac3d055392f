package deception

import (
	"context"
)

// noopTypeDeployer stands in for the real advertise/bind/drop/place
// side effects of each asset type. It never binds a real listener,
// writes a real credential, or touches a production path — it only
// records the synthetic metadata a concrete environment-specific
// deployer would have produced.
type noopTypeDeployer struct {
	kind AssetType
}

func (n noopTypeDeployer) Deploy(ctx context.Context, asset Asset) (map[string]interface{}, error) {
	return map[string]interface{}{
		"asset_type":  string(n.kind),
		"advertised":  true,
		"interaction": asset.InteractionTypes,
	}, nil
}

func (n noopTypeDeployer) Teardown(ctx context.Context, asset Asset, deployment Deployment) error {
	return nil
}

func defaultTypeDeployers() map[AssetType]typeDeployer {
	return map[AssetType]typeDeployer{
		AssetTypeDecoyHost:      noopTypeDeployer{kind: AssetTypeDecoyHost},
		AssetTypeDecoyPort:      noopTypeDeployer{kind: AssetTypeDecoyPort},
		AssetTypeFakeCredential: noopTypeDeployer{kind: AssetTypeFakeCredential},
		AssetTypeFakeFile:       noopTypeDeployer{kind: AssetTypeFakeFile},
	}
}
