package fabricsim

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const (
	actorObjectType = "Actor"
	caseObjectType  = "Case"
)

type actorState struct {
	Wallet       string   `json:"wallet"`
	Status       string   `json:"status"`
	Caseworker   bool     `json:"caseworker"`
	DocumentRefs []string `json:"document_refs,omitempty"`
}

type caseState struct {
	Number     string `json:"number"`
	Status     string `json:"status"`
	Caseworker string `json:"caseworker,omitempty"`
	Comment    string `json:"comment,omitempty"`
	FiledTxID  string `json:"filed_tx_id,omitempty"`
}

// CaseRegistry keeps the on-chain view of actors and cases and enforces the
// rules a deployed registry contract would.
type CaseRegistry struct {
	contractapi.Contract
}

func (c *CaseRegistry) RegisterActor(ctx contractapi.TransactionContextInterface, wallet string, refsJSON string) error {
	wallet = strings.ToLower(wallet)
	existing, err := getActor(ctx, wallet)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("actor %s already registered", wallet)
	}
	var refs []string
	if refsJSON != "" {
		if err := json.Unmarshal([]byte(refsJSON), &refs); err != nil {
			return fmt.Errorf("RegisterActor: invalid document refs: %w", err)
		}
	}
	return putState(ctx, actorObjectType, wallet, actorState{Wallet: wallet, Status: "pending", DocumentRefs: refs})
}

// VerifyActor marks wallet verified. Verifying twice is accepted so a retried
// call after a lost response does not fail.
func (c *CaseRegistry) VerifyActor(ctx contractapi.TransactionContextInterface, wallet string) error {
	wallet = strings.ToLower(wallet)
	existing, err := getActor(ctx, wallet)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &actorState{Wallet: wallet}
	}
	existing.Status = "verified"
	return putState(ctx, actorObjectType, wallet, *existing)
}

func (c *CaseRegistry) AddCaseworker(ctx contractapi.TransactionContextInterface, wallet string) error {
	wallet = strings.ToLower(wallet)
	existing, err := getActor(ctx, wallet)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &actorState{Wallet: wallet}
	}
	existing.Status = "verified"
	existing.Caseworker = true
	return putState(ctx, actorObjectType, wallet, *existing)
}

func (c *CaseRegistry) FileCase(ctx contractapi.TransactionContextInterface, number string, payloadJSON string) error {
	existing, err := getCase(ctx, number)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("case %s already filed", number)
	}
	if !json.Valid([]byte(payloadJSON)) {
		return fmt.Errorf("FileCase: payload for case %s is not JSON", number)
	}
	if err := putState(ctx, caseObjectType, number, caseState{Number: number, Status: "pending", FiledTxID: ctx.GetStub().GetTxID()}); err != nil {
		return err
	}
	return ctx.GetStub().SetEvent("CaseFiled", []byte(payloadJSON))
}

func (c *CaseRegistry) AssignCaseworker(ctx contractapi.TransactionContextInterface, number string, wallet string) error {
	wallet = strings.ToLower(wallet)
	cw, err := getActor(ctx, wallet)
	if err != nil {
		return err
	}
	if cw == nil || !cw.Caseworker {
		return fmt.Errorf("%s is not a registered caseworker", wallet)
	}
	cs, err := getCase(ctx, number)
	if err != nil {
		return err
	}
	if cs == nil {
		cs = &caseState{Number: number, Status: "pending"}
	}
	if cs.Status == "closed" || cs.Status == "rejected" {
		return fmt.Errorf("case %s is %s", number, cs.Status)
	}
	cs.Caseworker = wallet
	if cs.Status == "pending" {
		cs.Status = "in_progress"
	}
	return putState(ctx, caseObjectType, number, *cs)
}

func (c *CaseRegistry) UpdateCaseStatus(ctx contractapi.TransactionContextInterface, number string, status string, comment string) error {
	cs, err := getCase(ctx, number)
	if err != nil {
		return err
	}
	if cs == nil {
		cs = &caseState{Number: number, Status: "pending"}
	}
	if cs.Status == "closed" || cs.Status == "rejected" {
		return fmt.Errorf("case %s is already %s", number, cs.Status)
	}
	cs.Status = status
	cs.Comment = comment
	return putState(ctx, caseObjectType, number, *cs)
}

// GetCase returns the on-chain state of a case as JSON.
func (c *CaseRegistry) GetCase(ctx contractapi.TransactionContextInterface, number string) (string, error) {
	cs, err := getCase(ctx, number)
	if err != nil {
		return "", err
	}
	if cs == nil {
		return "", fmt.Errorf("case %s not found", number)
	}
	data, err := json.Marshal(cs)
	return string(data), err
}

func getActor(ctx contractapi.TransactionContextInterface, wallet string) (*actorState, error) {
	var a actorState
	ok, err := getState(ctx, actorObjectType, wallet, &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

func getCase(ctx contractapi.TransactionContextInterface, number string) (*caseState, error) {
	var cs caseState
	ok, err := getState(ctx, caseObjectType, number, &cs)
	if err != nil || !ok {
		return nil, err
	}
	return &cs, nil
}

func getState(ctx contractapi.TransactionContextInterface, objectType, id string, out any) (bool, error) {
	key, err := ctx.GetStub().CreateCompositeKey(objectType, []string{id})
	if err != nil {
		return false, fmt.Errorf("composite key for %s %s: %w", objectType, id, err)
	}
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("read %s %s: %w", objectType, id, err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", objectType, id, err)
	}
	return true, nil
}

func putState(ctx contractapi.TransactionContextInterface, objectType, id string, v any) error {
	key, err := ctx.GetStub().CreateCompositeKey(objectType, []string{id})
	if err != nil {
		return fmt.Errorf("composite key for %s %s: %w", objectType, id, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ctx.GetStub().PutState(key, data)
}
