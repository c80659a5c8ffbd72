package policy

import (
	"github.com/xeipuuv/gojsonschema"
)

// Boundary request-shape schemas. Raw JSON bodies are schema-validated before
// any field is trusted, so a malformed body degrades to the same Issue list a
// field validator would produce instead of a decode panic deeper in.
var (
	registerPatientSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["legalName", "dob", "state", "healthCardNumber", "patientWallet"],
		"properties": {
			"legalName":        {"type": "string", "minLength": 1, "maxLength": 256},
			"dob":              {"type": "string", "minLength": 10, "maxLength": 10},
			"state":            {"type": "string", "minLength": 2, "maxLength": 2},
			"healthCardNumber": {"type": "string", "minLength": 1, "maxLength": 64},
			"patientWallet":    {"type": "string", "minLength": 1, "maxLength": 128},
			"signalRelayId":    {"type": "string", "maxLength": 64}
		},
		"additionalProperties": false
	}`)

	approvalRequestSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["doctorWallet", "medicationCode", "legalName", "dob", "state", "healthCardNumber"],
		"properties": {
			"doctorWallet":     {"type": "string", "minLength": 1, "maxLength": 128},
			"medicationCode":   {"type": "string", "minLength": 1, "maxLength": 128},
			"legalName":        {"type": "string", "minLength": 1, "maxLength": 256},
			"dob":              {"type": "string", "minLength": 10, "maxLength": 10},
			"state":            {"type": "string", "minLength": 2, "maxLength": 2},
			"healthCardNumber": {"type": "string", "minLength": 1, "maxLength": 64}
		},
		"additionalProperties": false
	}`)

	fileAttestationSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["patientWallet", "medicationCode", "schedule", "quantity", "npi", "validUntilIso", "canPurchase"],
		"properties": {
			"requestId":      {"type": "string", "maxLength": 64},
			"patientWallet":  {"type": "string", "minLength": 1, "maxLength": 128},
			"medicationCode": {"type": "string", "minLength": 1, "maxLength": 128},
			"schedule":       {"type": "string", "minLength": 1, "maxLength": 16},
			"quantity":       {"type": "number"},
			"npi":            {"type": "string", "minLength": 1, "maxLength": 32},
			"dea":            {"type": "string", "maxLength": 32},
			"validUntilIso":  {"type": "string", "minLength": 1, "maxLength": 40},
			"canPurchase":    {"type": "boolean"}
		},
		"additionalProperties": false
	}`)

	confirmSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["approvalCode"],
		"properties": {
			"approvalCode": {"type": "string", "minLength": 1, "maxLength": 64}
		},
		"additionalProperties": false
	}`)

	walletCorrectionSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["oldPatientWallet", "newPatientWallet"],
		"properties": {
			"oldPatientWallet": {"type": "string", "minLength": 1, "maxLength": 128},
			"newPatientWallet": {"type": "string", "minLength": 1, "maxLength": 128}
		},
		"additionalProperties": false
	}`)
)

// Schema names accepted by CheckShape.
const (
	ShapeRegisterPatient  = "register_patient"
	ShapeApprovalRequest  = "approval_request"
	ShapeFileAttestation  = "file_attestation"
	ShapeConfirm          = "confirm"
	ShapeWalletCorrection = "wallet_correction"
)

var shapeSchemas = map[string]gojsonschema.JSONLoader{
	ShapeRegisterPatient:  registerPatientSchema,
	ShapeApprovalRequest:  approvalRequestSchema,
	ShapeFileAttestation:  fileAttestationSchema,
	ShapeConfirm:          confirmSchema,
	ShapeWalletCorrection: walletCorrectionSchema,
}

// CheckShape validates a raw JSON body against a named request schema and
// converts schema violations into the standard Issue list. Never panics; an
// unreadable body is itself an issue.
func CheckShape(shape string, body []byte) []Issue {
	loader, ok := shapeSchemas[shape]
	if !ok {
		return []Issue{{"body", CodeUnknownValue, "unknown request shape"}}
	}

	result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return []Issue{{"body", CodeFormat, "request body must be a JSON object"}}
	}
	if result.Valid() {
		return nil
	}

	issues := make([]Issue, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		field := re.Field()
		if field == "(root)" {
			field = "body"
		}
		issues = append(issues, Issue{Field: field, Code: CodeFormat, Message: re.Description()})
	}
	return issues
}
