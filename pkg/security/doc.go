/*
Package security loads the certificates used for mutual TLS between
backplane clients and the server.

A certificate directory holds three PEM files:

	tls.crt  leaf certificate
	tls.key  private key (RSA or EC)
	ca.crt   CA that signed every peer

The server requires and verifies client certificates; clients verify the
server against the same CA. Deployments without a PKI can create one with
NewCA and write server and client identities with CA.WriteIdentity; the
"ftb certs init" command does exactly that.
*/
package security
