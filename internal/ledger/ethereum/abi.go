package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// registryABIJSON covers the registry contract methods the adapter calls.
const registryABIJSON = `[{"name":"addOfficer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"officer","type":"address"}],"outputs":[]},
{"name":"assignOfficerToFIR","type":"function","stateMutability":"nonpayable","inputs":[{"name":"firId","type":"uint256"},
{"name":"officerAddr","type":"address"}],"outputs":[]},
{"name":"closeFIR","type":"function","stateMutability":"nonpayable","inputs":[{"name":"firId","type":"uint256"},
{"name":"closureComment","type":"string"}],"outputs":[]},
{"name":"fileFIR","type":"function","stateMutability":"nonpayable","inputs":[{"name":"complainantName","type":"string"},
{"name":"complainantContact","type":"string"},
{"name":"incidentType","type":"string"},
{"name":"incidentDateTime","type":"uint256"},
{"name":"incidentLocation","type":"string"},
{"name":"description","type":"string"},
{"name":"suspects","type":"string[]"},
{"name":"victims","type":"string[]"},
{"name":"witnesses","type":"string[]"},
{"name":"evidenceHashes","type":"bytes32[]"}],"outputs":[]},
{"name":"requestRegistration","type":"function","stateMutability":"nonpayable","inputs":[{"name":"documentHashes","type":"bytes32[]"}],"outputs":[]},
{"name":"verifyUser","type":"function","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"}],"outputs":[]},
{"name":"updateFIRStatus","type":"function","stateMutability":"nonpayable","inputs":[{"name":"firId","type":"uint256"},
{"name":"status","type":"string"}],"outputs":[]}]`

func registryABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(registryABIJSON))
}
