package kostal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"

	"golang.org/x/crypto/pbkdf2"
)

// The handshake always authenticates as the master user; the installer
// password feeds the key derivation and the master password is carried inside
// the encrypted session payload.
const authUsername = "master"

type authStartRequest struct {
	Username string `json:"username"`
	Nonce    string `json:"nonce"`
}

type authStartResponse struct {
	Nonce         string `json:"nonce"`
	TransactionID string `json:"transactionId"`
	Rounds        int    `json:"rounds"`
	Salt          string `json:"salt"`
}

type authFinishRequest struct {
	TransactionID string `json:"transactionId"`
	Proof         string `json:"proof"`
}

type authFinishResponse struct {
	Token string `json:"token"`
}

type createSessionRequest struct {
	TransactionID string `json:"transactionId"`
	IV            string `json:"iv"`
	Tag           string `json:"tag"`
	Payload       string `json:"payload"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// Login performs the five-step authentication handshake and stores the
// resulting session id in memory and on disk.
//
// The flow is a SCRAM-like challenge/response: PBKDF2 over the installer
// password, client proof via HMAC-SHA256, then an AES-256-GCM encrypted
// session payload carrying the token and the master password.
func (c *Client) Login() error {
	c.logger.Info("Starting inverter authentication")

	// Step 1: exchange nonces.
	clientNonce := base64.StdEncoding.EncodeToString([]byte(randomLetters(12)))

	var start authStartResponse
	err := c.doJSON(http.MethodPost, "/auth/start", authStartRequest{
		Username: authUsername,
		Nonce:    clientNonce,
	}, &start)
	if err != nil {
		return fmt.Errorf("auth start: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(start.Salt)
	if err != nil {
		return fmt.Errorf("decode salt: %w", err)
	}

	// Step 2: derive the key material.
	key := pbkdf2.Key([]byte(c.installerPassword), salt, start.Rounds, 32, sha256.New)
	clientKey := hmacSHA256(key, []byte("Client Key"))
	storedKeySum := sha256.Sum256(clientKey)
	storedKey := storedKeySum[:]

	// Step 3: compose the auth message. The server nonce appears twice -
	// this is bit-exact with what the inverter expects, do not "fix" it.
	authMessage := fmt.Sprintf("n=%s,r=%s,r=%s,s=%s,i=%d,c=biws,r=%s",
		authUsername, clientNonce, start.Nonce, start.Salt, start.Rounds, start.Nonce)

	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	// Step 4: send the proof, receive the token.
	var finish authFinishResponse
	err = c.doJSON(http.MethodPost, "/auth/finish", authFinishRequest{
		TransactionID: start.TransactionID,
		Proof:         base64.StdEncoding.EncodeToString(proof),
	}, &finish)
	if err != nil {
		return fmt.Errorf("auth finish: %w", err)
	}

	// Step 5: derive the protocol key and create the session. The session
	// payload is `token || masterPassword` under AES-256-GCM with a 16-byte
	// IV and 16-byte tag.
	mac := hmac.New(sha256.New, storedKey)
	mac.Write([]byte("Session Key"))
	mac.Write([]byte(authMessage))
	mac.Write(clientKey)
	protocolKey := mac.Sum(nil)

	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(protocolKey)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return fmt.Errorf("create gcm: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(finish.Token+c.masterPassword), nil)
	// Seal appends the tag to the ciphertext; the inverter wants them as
	// separate base64 fields.
	tagOffset := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagOffset], sealed[tagOffset:]

	var session createSessionResponse
	err = c.doJSON(http.MethodPost, "/auth/create_session", createSessionRequest{
		TransactionID: start.TransactionID,
		IV:            base64.StdEncoding.EncodeToString(iv),
		Tag:           base64.StdEncoding.EncodeToString(tag),
		Payload:       base64.StdEncoding.EncodeToString(ciphertext),
	}, &session)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.sessionID = session.SessionID
	c.saveSessionFile()

	if !c.sessionValid() {
		c.sessionID = ""
		return fmt.Errorf("session not accepted after handshake")
	}

	c.logger.Info("Inverter authentication successful")
	return nil
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// randomLetters returns `n` random ASCII letters for the client nonce.
func randomLetters(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	result := make([]byte, n)
	for i := range result {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken;
			// fall back to a fixed letter rather than aborting the login.
			result[i] = 'a'
			continue
		}
		result[i] = letters[idx.Int64()]
	}
	return string(result)
}
